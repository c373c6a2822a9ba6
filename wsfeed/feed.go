package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/codec"
	"github.com/xraph/conveyor/id"
)

const (
	dialTimeout    = 10 * time.Second
	welcomeTimeout = 10 * time.Second
)

// Feed is a job source backed by a WebSocket feed server. A read loop
// buffers the job frames the server pushes; Poll hands them out one at a
// time. When the connection drops the loop redials with backoff until the
// retry budget runs out, at which point the feed closes itself.
//
// A Feed is delivery-only: it does not implement Acker, settlement stays
// with the server, which redelivers on its own policy.
type Feed[T any] struct {
	url string
	cfg feedConfig

	mu        sync.Mutex // guards conn, codec, sessionID and writes
	conn      net.Conn
	codec     codec.Codec
	sessionID string

	buf     chan *conveyor.Request[T]
	closing chan struct{}
	done    chan struct{}
	closed  atomic.Bool
}

var _ conveyor.Source[struct{}] = (*Feed[struct{}])(nil)

// Dial connects to a feed server, performs the hello handshake, and
// starts the read loop. The returned feed is ready to poll.
func Dial[T any](ctx context.Context, url string, opts ...Option) (*Feed[T], error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &Feed[T]{
		url:     url,
		cfg:     cfg,
		codec:   codec.Default,
		buf:     make(chan *conveyor.Request[T], cfg.buffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := f.connect(ctx); err != nil {
		return nil, err
	}
	go f.readLoop()
	return f, nil
}

// connect dials the server and runs the hello handshake. On success the
// connection and the codec the welcome named are installed.
func (f *Feed[T]) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, f.url)
	if err != nil {
		return fmt.Errorf("conveyor/wsfeed: dial %s: %w", f.url, err)
	}

	hello, err := NewHelloFrame(f.cfg.token, f.cfg.format)
	if err != nil {
		conn.Close()
		return fmt.Errorf("conveyor/wsfeed: build hello: %w", err)
	}

	// Hello frames are always JSON; nothing is negotiated yet.
	raw, err := json.Marshal(hello)
	if err != nil {
		conn.Close()
		return fmt.Errorf("conveyor/wsfeed: marshal hello: %w", err)
	}
	if err := wsutil.WriteClientText(conn, raw); err != nil {
		conn.Close()
		return fmt.Errorf("conveyor/wsfeed: send hello: %w", err)
	}

	welcome, err := readWelcome(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	if welcome.Type == FrameErr {
		conn.Close()
		msg := "unknown"
		if welcome.Error != nil {
			msg = welcome.Error.Message
		}
		return fmt.Errorf("conveyor/wsfeed: feed refused session: %s", msg)
	}
	if welcome.Type != FrameWelcome {
		conn.Close()
		return fmt.Errorf("conveyor/wsfeed: expected welcome frame, got %q", welcome.Type)
	}

	var wd WelcomeData
	if err := json.Unmarshal(welcome.Data, &wd); err != nil {
		conn.Close()
		return fmt.Errorf("conveyor/wsfeed: decode welcome: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.codec = codec.ByName(wd.Format)
	f.sessionID = wd.SessionID
	f.mu.Unlock()

	f.cfg.logger.Info("feed connected",
		slog.String("url", f.url),
		slog.String("session_id", wd.SessionID),
		slog.String("format", f.codec.Name()),
	)
	return nil
}

// readWelcome reads the handshake reply. The welcome is always JSON, like
// the hello it answers.
func readWelcome(ctx context.Context, conn net.Conn) (*Frame, error) {
	type result struct {
		frame *Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			ch <- result{err: err}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			ch <- result{err: err}
			return
		}
		ch <- result{frame: &frame}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("conveyor/wsfeed: read welcome: %w", res.err)
		}
		return res.frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(welcomeTimeout):
		return nil, errors.New("conveyor/wsfeed: welcome timeout")
	}
}

// readLoop owns the connection after the handshake. It turns job frames
// into buffered requests, answers pings, and redials dropped connections
// until the retry budget is spent.
func (f *Feed[T]) readLoop() {
	defer close(f.done)
	for {
		if f.closed.Load() {
			return
		}
		f.mu.Lock()
		conn := f.conn
		fc := f.codec
		f.mu.Unlock()

		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if f.closed.Load() {
				return
			}
			f.cfg.logger.Warn("feed connection lost", slog.String("error", err.Error()))
			if f.tryReconnect() {
				continue
			}
			// Out of retries. Release the dead connection; Poll reports
			// closed once the buffer drains.
			f.mu.Lock()
			if f.conn != nil {
				f.conn.Close()
				f.conn = nil
			}
			f.mu.Unlock()
			return
		}
		f.dispatch(fc, data)
	}
}

func (f *Feed[T]) dispatch(c codec.Codec, data []byte) {
	var frame Frame
	if err := c.Unmarshal(data, &frame); err != nil {
		f.cfg.logger.Warn("feed dropped undecodable frame", slog.String("error", err.Error()))
		return
	}

	switch frame.Type {
	case FrameJob:
		req, err := f.toRequest(&frame)
		if err != nil {
			f.cfg.logger.Warn("feed dropped job frame",
				slog.String("frame_id", frame.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		select {
		case f.buf <- req:
		case <-f.closing:
		}
	case FramePing:
		if err := f.writeFrame(NewPongFrame(frame.ID)); err != nil {
			f.cfg.logger.Warn("feed pong failed", slog.String("error", err.Error()))
		}
	case FrameErr:
		code := 0
		msg := "unknown"
		if frame.Error != nil {
			code = frame.Error.Code
			msg = frame.Error.Message
		}
		f.cfg.logger.Warn("feed server error",
			slog.Int("code", code),
			slog.String("message", msg),
		)
	default:
		// Welcome frames are consumed during the handshake; anything else
		// is protocol the client does not speak.
		f.cfg.logger.Debug("feed ignored frame", slog.String("type", string(frame.Type)))
	}
}

// toRequest converts a job frame into a typed request. The server's job ID
// is kept when it parses so redeliveries stay correlated upstream.
func (f *Feed[T]) toRequest(frame *Frame) (*conveyor.Request[T], error) {
	var job JobData
	if err := json.Unmarshal(frame.Data, &job); err != nil {
		return nil, fmt.Errorf("decode job data: %w", err)
	}
	if f.cfg.kind != "" && job.Kind != f.cfg.kind {
		return nil, fmt.Errorf("kind %q not handled by this feed", job.Kind)
	}

	var payload T
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode %q payload: %w", job.Kind, err)
		}
	}

	jobID, err := id.Parse(job.JobID)
	if err != nil {
		jobID = id.New(id.PrefixFeed)
	}

	req := &conveyor.Request[T]{
		ID:          jobID,
		Payload:     payload,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		EnqueuedAt:  job.EnqueuedAt,
	}
	if req.Attempt < 1 {
		req.Attempt = 1
	}
	if req.MaxAttempts < 1 {
		req.MaxAttempts = 1
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = frame.Timestamp
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now().UTC()
	}
	return req, nil
}

// tryReconnect redials with backoff until a connection sticks or the retry
// budget runs out. It returns false when the feed should die.
func (f *Feed[T]) tryReconnect() bool {
	for attempt := 1; attempt <= f.cfg.maxRetries; attempt++ {
		if f.closed.Load() {
			return false
		}
		delay := f.cfg.retry.Delay(attempt)
		f.cfg.logger.Info("feed reconnecting",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", f.cfg.maxRetries),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-f.closing:
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		err := f.connect(ctx)
		cancel()
		if err != nil {
			f.cfg.logger.Warn("feed reconnect failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		return true
	}
	f.cfg.logger.Error("feed giving up after failed reconnects",
		slog.Int("attempts", f.cfg.maxRetries))
	return false
}

// writeFrame encodes and sends one frame with the session codec. JSON goes
// as a text message, msgpack as binary.
func (f *Feed[T]) writeFrame(frame *Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return conveyor.ErrSourceClosed
	}
	data, err := f.codec.Marshal(frame)
	if err != nil {
		return fmt.Errorf("conveyor/wsfeed: marshal frame: %w", err)
	}
	op := ws.OpText
	if f.codec.Name() == codec.NameMsgpack {
		op = ws.OpBinary
	}
	return wsutil.WriteClientMessage(f.conn, op, data)
}

// Poll returns the next buffered request. It reports (nil, nil) while the
// feed is connected but idle, and ErrSourceClosed once the feed is down
// and the buffer drained.
func (f *Feed[T]) Poll(ctx context.Context) (*conveyor.Request[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case req := <-f.buf:
		return req, nil
	default:
	}
	select {
	case <-f.done:
	default:
		return nil, nil
	}
	// The read loop is gone; drain what it left behind, then report closed.
	select {
	case req := <-f.buf:
		return req, nil
	default:
		return nil, conveyor.ErrSourceClosed
	}
}

// Len reports how many requests are buffered and ready to poll.
func (f *Feed[T]) Len() int { return len(f.buf) }

// SessionID returns the session granted by the last successful handshake.
func (f *Feed[T]) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

// Format returns the frame format the session negotiated.
func (f *Feed[T]) Format() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codec.Name()
}

// Close tears down the connection and stops the read loop. Requests
// already buffered stay pollable; Poll reports ErrSourceClosed once they
// are drained. Close is idempotent.
func (f *Feed[T]) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.closing)

	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	<-f.done
	return err
}

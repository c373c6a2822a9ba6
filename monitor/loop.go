package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
)

// Completer settles a delivery after the handler has run. Register uses the
// worker's source when it implements conveyor.Acker; sources without
// delivery state (channels, cron ticks) get a discard completer.
type Completer[T any] interface {
	Complete(ctx context.Context, req *conveyor.Request[T], result any, handleErr error) error
}

// LeaseExtender is implemented by sources whose deliveries run under a
// lease. While a handler runs, the monitor renews the lease on the
// keepalive interval so the store does not hand the job to someone else.
type LeaseExtender[T any] interface {
	Extend(ctx context.Context, req *conveyor.Request[T], d time.Duration) error
}

// ackerCompleter adapts a source's Ack to the Completer seam.
type ackerCompleter[T any] struct {
	acker conveyor.Acker[T]
}

func (a ackerCompleter[T]) Complete(ctx context.Context, req *conveyor.Request[T], result any, handleErr error) error {
	return a.acker.Ack(ctx, req, result, handleErr)
}

// discardCompleter ignores outcomes for fire-and-forget sources.
type discardCompleter[T any] struct{}

func (discardCompleter[T]) Complete(context.Context, *conveyor.Request[T], any, error) error {
	return nil
}

// runConfig holds the per-worker knobs. Options mutate this struct so they
// need no type parameter of their own.
type runConfig struct {
	concurrency int
	idle        backoff.Strategy
	keepEvery   time.Duration
	keepFor     time.Duration
}

// RunOption configures one registered worker.
type RunOption func(*runConfig)

// WithConcurrency sets how many poll loops drive the worker. The default
// is one.
func WithConcurrency(n int) RunOption {
	return func(c *runConfig) { c.concurrency = n }
}

// WithIdle sets the backoff between polls while the source has nothing.
// The streak resets as soon as a poll yields work.
func WithIdle(s backoff.Strategy) RunOption {
	return func(c *runConfig) { c.idle = s }
}

// WithKeepAlive renews a leased delivery every interval, pushing the lease
// out to now+renew each time. It has no effect on sources without leases.
func WithKeepAlive(every, renew time.Duration) RunOption {
	return func(c *runConfig) {
		c.keepEvery = every
		c.keepFor = renew
	}
}

// loop drives one worker. It implements runner so the monitor can hold it
// without knowing T.
type loop[T any] struct {
	mon       *Monitor
	worker    *conveyor.Worker[T]
	completer Completer[T]
	extender  LeaseExtender[T]
	cfg       runConfig
}

var _ runner = (*loop[struct{}])(nil)

// Register adds a worker to the monitor under its builder name. Go does not
// allow generic methods, so registration is a package-level function.
//
// The worker's source doubles as its settlement target when it implements
// conveyor.Acker, and its lease keeper when it implements LeaseExtender.
func Register[T any](m *Monitor, w *conveyor.Worker[T], opts ...RunOption) error {
	cfg := runConfig{
		concurrency: 1,
		idle:        backoff.NewExponential(25*time.Millisecond, time.Second),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}
	if cfg.keepEvery > 0 && cfg.keepFor <= 0 {
		cfg.keepFor = 2 * cfg.keepEvery
	}

	l := &loop[T]{
		mon:       m,
		worker:    w,
		completer: discardCompleter[T]{},
		cfg:       cfg,
	}
	if acker, ok := w.Source().(conveyor.Acker[T]); ok {
		l.completer = ackerCompleter[T]{acker: acker}
	}
	if ext, ok := w.Source().(LeaseExtender[T]); ok {
		l.extender = ext
	}

	return m.add(l)
}

func (l *loop[T]) workerName() string { return l.worker.Name() }

// run fans the worker out over its configured number of poll loops and
// waits for all of them.
func (l *loop[T]) run(pollCtx, deliveryCtx context.Context) error {
	log := l.mon.cfg.Logger.With(slog.String("worker", l.worker.Name()))
	log.Info("worker started", slog.Int("concurrency", l.cfg.concurrency))

	g := new(errgroup.Group)
	for range l.cfg.concurrency {
		g.Go(func() error { return l.poll(pollCtx, deliveryCtx, log) })
	}
	err := g.Wait()

	log.Info("worker stopped")
	return err
}

// poll is one worker goroutine: poll, deliver, settle, repeat.
func (l *loop[T]) poll(ctx, deliveryCtx context.Context, log *slog.Logger) error {
	idleStreak := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		// Acquire before polling so a denied slot never strands a
		// claimed delivery.
		if gov := l.mon.cfg.Governor; gov != nil && !gov.Acquire(l.worker.Name()) {
			idleStreak++
			if !l.sleep(ctx, idleStreak) {
				return nil
			}
			continue
		}

		req, err := l.worker.Source().Poll(ctx)
		switch {
		case errors.Is(err, conveyor.ErrSourceClosed):
			l.release()
			log.Info("source closed")
			return nil
		case err != nil:
			l.release()
			if ctx.Err() != nil {
				return nil
			}
			log.Error("poll failed", slog.String("error", err.Error()))
			idleStreak++
			if !l.sleep(ctx, idleStreak) {
				return nil
			}
			continue
		case req == nil:
			l.release()
			idleStreak++
			if !l.sleep(ctx, idleStreak) {
				return nil
			}
			continue
		}

		idleStreak = 0
		l.deliver(deliveryCtx, req, log)
		l.release()
	}
}

// deliver runs one request through the worker and settles the outcome.
func (l *loop[T]) deliver(ctx context.Context, req *conveyor.Request[T], log *slog.Logger) {
	name := l.worker.Name()
	hooks := l.mon.cfg.Hooks

	hooks.EmitJobStarted(ctx, name, req.ID, req.Attempt)

	stopKeepAlive := l.keepAlive(ctx, req, log)
	start := time.Now()
	result, err := l.worker.Process(ctx, req)
	elapsed := time.Since(start)
	stopKeepAlive()

	if err != nil {
		log.Debug("delivery failed",
			slog.String("job_id", req.ID.String()),
			slog.String("error", err.Error()),
		)
		hooks.EmitJobFailed(ctx, name, req.ID, req.Attempt, err)
	} else {
		hooks.EmitJobCompleted(ctx, name, req.ID, elapsed)
	}

	if ackErr := l.completer.Complete(ctx, req, result, err); ackErr != nil {
		log.Error("settle delivery",
			slog.String("job_id", req.ID.String()),
			slog.String("error", ackErr.Error()),
		)
	}
}

// keepAlive renews the delivery's lease on the configured interval until
// the returned stop func is called. Stop waits for the renewer to exit so
// no Extend races the settlement.
func (l *loop[T]) keepAlive(ctx context.Context, req *conveyor.Request[T], log *slog.Logger) func() {
	if l.extender == nil || l.cfg.keepEvery <= 0 {
		return func() {}
	}

	kctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.cfg.keepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-kctx.Done():
				return
			case <-ticker.C:
				if err := l.extender.Extend(kctx, req, l.cfg.keepFor); err != nil {
					log.Warn("lease keepalive failed",
						slog.String("job_id", req.ID.String()),
						slog.String("error", err.Error()),
					)
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// sleep backs off for the idle streak's delay, or until ctx ends. It
// reports whether polling should continue.
func (l *loop[T]) sleep(ctx context.Context, streak int) bool {
	d := l.cfg.idle.Delay(streak)
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// release returns this loop's governor slot, if it holds one.
func (l *loop[T]) release() {
	if gov := l.mon.cfg.Governor; gov != nil {
		gov.Release(l.worker.Name())
	}
}

package source

import (
	"context"
	"sync"

	"github.com/xraph/conveyor"
)

// Chan bridges push-style producers into the pull contract: producers Send
// payloads, workers Poll them back out. Requests live only in memory; a Chan
// has no delivery state, so it does not implement Acker and failed requests
// are simply gone.
type Chan[T any] struct {
	ch chan *conveyor.Request[T]

	mu     sync.Mutex
	closed bool
}

var _ conveyor.Source[struct{}] = (*Chan[struct{}])(nil)

// NewChan creates a channel source buffering up to size requests. A size of
// zero makes Send rendezvous with Poll.
func NewChan[T any](size int) *Chan[T] {
	return &Chan[T]{ch: make(chan *conveyor.Request[T], size)}
}

// Send wraps payload in a fresh request and queues it. It blocks while the
// buffer is full and fails with ErrSourceClosed after Close.
func (c *Chan[T]) Send(ctx context.Context, payload T) error {
	return c.SendRequest(ctx, conveyor.NewRequest(payload))
}

// SendRequest queues a caller-built request, for producers that carry their
// own IDs or attempt counts.
func (c *Chan[T]) SendRequest(ctx context.Context, req *conveyor.Request[T]) error {
	// The lock pins the closed flag for the whole send, so Close cannot
	// close the channel under a blocked sender.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return conveyor.ErrSourceClosed
	}

	select {
	case c.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll returns the next queued request without blocking: (nil, nil) when
// the buffer is empty, ErrSourceClosed once the source is closed and
// drained.
func (c *Chan[T]) Poll(ctx context.Context) (*conveyor.Request[T], error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case req, ok := <-c.ch:
		if !ok {
			return nil, conveyor.ErrSourceClosed
		}
		return req, nil
	default:
		return nil, nil
	}
}

// Len reports how many requests are buffered.
func (c *Chan[T]) Len() int { return len(c.ch) }

// Close stops accepting sends. Buffered requests remain pollable; once they
// drain, Poll reports ErrSourceClosed. Close is idempotent.
func (c *Chan[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

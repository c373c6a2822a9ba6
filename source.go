package conveyor

import "context"

// Source produces jobs for a worker to process. Poll is a non-blocking pull:
// it returns the next request, or (nil, nil) when nothing is ready right now,
// or an error when the backing transport failed. Callers decide how to pace
// polling; sources must not block waiting for work unless the context does.
type Source[T any] interface {
	Poll(ctx context.Context) (*Request[T], error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc[T any] func(ctx context.Context) (*Request[T], error)

// Poll calls f.
func (f SourceFunc[T]) Poll(ctx context.Context) (*Request[T], error) {
	return f(ctx)
}

// Acker is implemented by sources that track delivery outcomes. Workers call
// Ack after the handler returns so the source can settle the job: mark it
// done, schedule a retry, or move it to the dead set. Sources without
// delivery state (channels, static feeds) simply do not implement Acker.
type Acker[T any] interface {
	Ack(ctx context.Context, req *Request[T], result any, handleErr error) error
}

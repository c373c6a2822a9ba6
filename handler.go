package conveyor

import "context"

// Handler is the terminal stage of a pipeline. It receives each request the
// source yields, after the layer stack has run, and returns a result value
// or an error. The result is opaque to the pipeline; sources that settle
// deliveries receive it through Ack.
type Handler[T any] interface {
	Handle(ctx context.Context, req *Request[T]) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc[T any] func(ctx context.Context, req *Request[T]) (any, error)

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, req *Request[T]) (any, error) {
	return f(ctx, req)
}

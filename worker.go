package conveyor

import "context"

// Ref is a handle on a worker that exists before the worker does. Source
// factories receive one so a source can subscribe, claim a lease owner, or
// label itself with the worker's name without holding the worker itself.
type Ref struct {
	name string
}

// NewRef returns a ref for the given worker name. Most refs come from
// AttachSourceWith; NewRef exists for tests and custom wiring.
func NewRef(name string) Ref { return Ref{name: name} }

// Name reports the worker name.
func (r Ref) Name() string { return r.name }

// Worker is a finished pipeline: a named source, the terminal handler, and
// the handler with all layers folded in. Workers are immutable; running them
// is the monitor package's job.
type Worker[T any] struct {
	name     string
	source   Source[T]
	terminal Handler[T]
	handler  Handler[T]
}

// Name reports the worker's name.
func (w *Worker[T]) Name() string { return w.name }

// Ref returns a handle carrying the worker's name.
func (w *Worker[T]) Ref() Ref { return Ref{name: w.name} }

// Source returns the source the worker pulls from.
func (w *Worker[T]) Source() Source[T] { return w.source }

// Handler returns the terminal handler, without layers.
func (w *Worker[T]) Handler() Handler[T] { return w.terminal }

// Process runs one request through the full decorated chain and returns the
// terminal handler's result. The request's context gains the worker's Ref.
func (w *Worker[T]) Process(ctx context.Context, req *Request[T]) (any, error) {
	return w.handler.Handle(ContextWithRef(ctx, w.Ref()), req)
}

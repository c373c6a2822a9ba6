package conveyor

import "context"

// Builder is the first stage of worker construction. It carries only the
// worker name; attaching a source fixes the job type and moves construction
// into a Pipeline. Builders are single-use: every constructor step consumes
// the value it is called on and returns a fresh one, and a consumed value
// panics on reuse. Attaching a source is a package-level function rather
// than a method because Go does not allow a method to introduce a type
// parameter its receiver lacks.
type Builder struct {
	name  string
	guard *spent
}

// spent marks a construction stage as consumed. Stages are plain values
// meant for linear call chains on one goroutine, so the flag is a bare bool.
type spent struct{ done bool }

func (g *spent) use(what string) {
	if g.done {
		panic("conveyor: " + what + " already consumed")
	}
	g.done = true
}

// NewBuilder starts constructing a worker with the given name. The name
// identifies the worker in logs, lease ownership, and the monitor.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, guard: &spent{}}
}

// Name reports the worker name the builder was created with.
func (b *Builder) Name() string { return b.name }

// AttachSource consumes b and returns a pipeline pulling jobs of type T
// from src. The source fixes T for every later step: layers, the terminal
// handler, and the built worker all share it.
func AttachSource[T any](b *Builder, src Source[T]) *Pipeline[T] {
	b.guard.use("builder")
	return &Pipeline[T]{name: b.name, source: src, guard: &spent{}}
}

// AttachSourceWith is AttachSource for sources that need to know which
// worker they feed. The factory receives the worker's Ref and returns the
// source; it runs exactly once, before the pipeline is returned.
func AttachSourceWith[T any](b *Builder, factory func(Ref) Source[T]) *Pipeline[T] {
	b.guard.use("builder")
	return &Pipeline[T]{name: b.name, source: factory(Ref{name: b.name}), guard: &spent{}}
}

// Pipeline is the second stage of worker construction: a named source of T
// plus an ordered stack of layers. Like Builder, every step consumes its
// receiver and returns a fresh value; Build is terminal.
type Pipeline[T any] struct {
	name   string
	source Source[T]
	stack  Stack[T]
	guard  *spent
}

// Name reports the worker name carried from the builder.
func (p *Pipeline[T]) Name() string { return p.name }

// Decorate consumes p and returns a pipeline whose stack is fn(stack).
// It is the general form: fn may push, reorder, or replace layers wholesale.
func (p *Pipeline[T]) Decorate(fn func(Stack[T]) Stack[T]) *Pipeline[T] {
	p.guard.use("pipeline")
	return &Pipeline[T]{name: p.name, source: p.source, stack: fn(p.stack), guard: &spent{}}
}

// Layer consumes p and returns a pipeline with l pushed onto the stack.
// The first layer added is outermost when the worker runs: it sees the
// request before, and the result after, every layer added later.
func (p *Pipeline[T]) Layer(l Layer[T]) *Pipeline[T] {
	return p.Decorate(func(s Stack[T]) Stack[T] { return s.Push(l) })
}

// Build consumes p and returns the finished worker. The stack is folded
// around h exactly once, here; the worker holds the composed handler and
// never re-applies layers. Build is the end of the chain, so the returned
// worker is immutable.
func (p *Pipeline[T]) Build(h Handler[T]) *Worker[T] {
	p.guard.use("pipeline")
	return &Worker[T]{
		name:     p.name,
		source:   p.source,
		terminal: h,
		handler:  p.stack.Then(h),
	}
}

// BuildFunc is Build with a bare function as the terminal handler. It is
// exactly Build(HandlerFunc[T](fn)); the two are interchangeable.
func (p *Pipeline[T]) BuildFunc(fn func(ctx context.Context, req *Request[T]) (any, error)) *Worker[T] {
	return p.Build(HandlerFunc[T](fn))
}

package conveyor

// Layer decorates a Handler. A layer receives the next handler in the chain
// and returns the wrapped one; it may act before and after delegating, skip
// the call entirely, or rewrite the result.
type Layer[T any] func(next Handler[T]) Handler[T]

// Stack is an ordered collection of layers. The zero value is ready to use.
// Stacks have value semantics: Push returns a new stack and never mutates
// the receiver's backing array in a way an older copy can observe.
type Stack[T any] struct {
	layers []Layer[T]
}

// NewStack returns a stack holding the given layers in order.
func NewStack[T any](layers ...Layer[T]) Stack[T] {
	return Stack[T]{layers: layers}
}

// Push appends a layer and returns the extended stack. The earliest pushed
// layer ends up outermost when the stack is applied.
func (s Stack[T]) Push(l Layer[T]) Stack[T] {
	next := make([]Layer[T], len(s.layers), len(s.layers)+1)
	copy(next, s.layers)
	return Stack[T]{layers: append(next, l)}
}

// Len reports the number of layers on the stack.
func (s Stack[T]) Len() int { return len(s.layers) }

// Then folds the stack around h. Layers are applied innermost-first so that
// the first layer pushed wraps everything else: for a stack [a, b, c],
// Then(h) = a(b(c(h))). An empty stack returns h unchanged.
func (s Stack[T]) Then(h Handler[T]) Handler[T] {
	for i := len(s.layers) - 1; i >= 0; i-- {
		h = s.layers[i](h)
	}
	return h
}

package middleware

import (
	"context"
	"time"

	"github.com/xraph/conveyor"
)

// Timeout returns a layer that bounds each delivery with a deadline. When it
// expires the handler's context is canceled; a well-behaved handler returns
// context.DeadlineExceeded. A non-positive d disables the layer.
func Timeout[T any](d time.Duration) conveyor.Layer[T] {
	return func(next conveyor.Handler[T]) conveyor.Handler[T] {
		return conveyor.HandlerFunc[T](func(ctx context.Context, req *conveyor.Request[T]) (any, error) {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next.Handle(ctx, req)
		})
	}
}

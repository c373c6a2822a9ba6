package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/conveyor"
)

// Recover returns a layer that recovers from panics further down the chain.
// Panics are converted to errors and logged with a stack trace.
func Recover[T any](logger *slog.Logger) conveyor.Layer[T] {
	return func(next conveyor.Handler[T]) conveyor.Handler[T] {
		return conveyor.HandlerFunc[T](func(ctx context.Context, req *conveyor.Request[T]) (res any, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					stack := string(debug.Stack())
					logger.Error("handler panicked",
						slog.String("worker", workerName(ctx)),
						slog.String("job_id", req.ID.String()),
						slog.Any("panic", r),
						slog.String("stack", stack),
					)
					res = nil
					retErr = fmt.Errorf("panic processing job %s: %v", req.ID, r)
				}
			}()
			return next.Handle(ctx, req)
		})
	}
}

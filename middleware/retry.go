package middleware

import (
	"context"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
)

// Retry returns a layer that re-runs a failed handler in process, up to
// attempts total tries, sleeping per the strategy between them. Permanent
// errors stop the loop at once, as does context cancellation. In-process
// retries happen within a single delivery: the request's Attempt does not
// change, and source-level redelivery still applies if the last try fails.
func Retry[T any](attempts int, strategy backoff.Strategy) conveyor.Layer[T] {
	if strategy == nil {
		strategy = backoff.Default()
	}
	return func(next conveyor.Handler[T]) conveyor.Handler[T] {
		return conveyor.HandlerFunc[T](func(ctx context.Context, req *conveyor.Request[T]) (any, error) {
			var (
				res any
				err error
			)
			for try := 1; ; try++ {
				res, err = next.Handle(ctx, req)
				if err == nil || try >= attempts || conveyor.IsPermanent(err) {
					return res, err
				}

				timer := time.NewTimer(strategy.Delay(try))
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
			}
		})
	}
}

package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xraph/conveyor"
)

// RateLimit returns a layer that gates deliveries through limiter, blocking
// until a token is available or the context ends. Share one limiter across
// workers to cap their combined throughput.
func RateLimit[T any](limiter *rate.Limiter) conveyor.Layer[T] {
	return func(next conveyor.Handler[T]) conveyor.Handler[T] {
		return conveyor.HandlerFunc[T](func(ctx context.Context, req *conveyor.Request[T]) (any, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("conveyor/middleware: rate limit wait: %w", err)
			}
			return next.Handle(ctx, req)
		})
	}
}

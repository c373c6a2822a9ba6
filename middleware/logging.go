package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conveyor"
)

// Logging returns a layer that logs delivery start and completion.
func Logging[T any](logger *slog.Logger) conveyor.Layer[T] {
	return func(next conveyor.Handler[T]) conveyor.Handler[T] {
		return conveyor.HandlerFunc[T](func(ctx context.Context, req *conveyor.Request[T]) (any, error) {
			logger.Info("delivery started",
				slog.String("worker", workerName(ctx)),
				slog.String("job_id", req.ID.String()),
				slog.Int("attempt", req.Attempt),
			)

			start := time.Now()
			res, err := next.Handle(ctx, req)
			elapsed := time.Since(start)

			if err != nil {
				logger.Error("delivery failed",
					slog.String("worker", workerName(ctx)),
					slog.String("job_id", req.ID.String()),
					slog.Int("attempt", req.Attempt),
					slog.Duration("elapsed", elapsed),
					slog.String("error", err.Error()),
				)
			} else {
				logger.Info("delivery completed",
					slog.String("worker", workerName(ctx)),
					slog.String("job_id", req.ID.String()),
					slog.Duration("elapsed", elapsed),
				)
			}

			return res, err
		})
	}
}

// workerName reports the name of the worker the delivery runs under, or ""
// outside a worker's Process call.
func workerName(ctx context.Context) string {
	ref, ok := conveyor.RefFromContext(ctx)
	if !ok {
		return ""
	}
	return ref.Name()
}

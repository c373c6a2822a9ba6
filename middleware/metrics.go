package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/conveyor"
)

// meterName is the instrumentation scope name for conveyor metrics.
const meterName = "github.com/xraph/conveyor"

// Metrics returns a layer that records per-delivery metrics on the global
// OTel MeterProvider. With none configured, noop instruments make this a
// pass-through.
//
// Instruments:
//   - conveyor.job.duration (Float64Histogram): delivery time in seconds,
//     with attributes: worker, status ("ok" or "error")
//   - conveyor.job.deliveries (Int64Counter): total deliveries,
//     with attributes: worker, status ("ok" or "error")
func Metrics[T any]() conveyor.Layer[T] {
	return MetricsWithMeter[T](otel.Meter(meterName))
}

// MetricsWithMeter returns the metrics layer with an explicit meter, for
// tests or setups running several MeterProviders.
func MetricsWithMeter[T any](meter metric.Meter) conveyor.Layer[T] {
	// Instruments are created once per layer and are safe for concurrent
	// use. On error the OTel API returns noop instruments, so the layer
	// degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"conveyor.job.duration",
		metric.WithDescription("Duration of job deliveries in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	deliveries, cErr := meter.Int64Counter(
		"conveyor.job.deliveries",
		metric.WithDescription("Total number of job deliveries"),
		metric.WithUnit("{delivery}"),
	)
	_ = cErr // noop fallback guaranteed by OTel API contract

	return func(next conveyor.Handler[T]) conveyor.Handler[T] {
		return conveyor.HandlerFunc[T](func(ctx context.Context, req *conveyor.Request[T]) (any, error) {
			start := time.Now()
			res, err := next.Handle(ctx, req)
			elapsed := time.Since(start).Seconds()

			status := "ok"
			if err != nil {
				status = "error"
			}

			attrs := metric.WithAttributes(
				attribute.String("worker", workerName(ctx)),
				attribute.String("status", status),
			)

			duration.Record(ctx, elapsed, attrs)
			deliveries.Add(ctx, 1, attrs)

			return res, err
		})
	}
}

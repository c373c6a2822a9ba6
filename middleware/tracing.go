package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/conveyor"
)

// tracerName is the instrumentation scope name for conveyor tracing.
const tracerName = "github.com/xraph/conveyor"

// Tracing returns a layer that wraps each delivery in an OpenTelemetry span.
// With no TracerProvider configured globally, the default noop tracer makes
// this a pass-through with zero overhead.
//
// Span attributes: conveyor.job.id, conveyor.job.attempt, conveyor.worker.
// On error, the span status is set to codes.Error with the error message.
func Tracing[T any]() conveyor.Layer[T] {
	return TracingWithTracer[T](otel.Tracer(tracerName))
}

// TracingWithTracer returns the tracing layer with an explicit tracer, for
// tests or setups running several TracerProviders.
func TracingWithTracer[T any](tracer trace.Tracer) conveyor.Layer[T] {
	return func(next conveyor.Handler[T]) conveyor.Handler[T] {
		return conveyor.HandlerFunc[T](func(ctx context.Context, req *conveyor.Request[T]) (any, error) {
			ctx, span := tracer.Start(ctx, "conveyor.job.process",
				trace.WithAttributes(
					attribute.String("conveyor.job.id", req.ID.String()),
					attribute.Int("conveyor.job.attempt", req.Attempt),
					attribute.String("conveyor.worker", workerName(ctx)),
				),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			res, err := next.Handle(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}

			return res, err
		})
	}
}

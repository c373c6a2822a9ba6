// Package middleware provides ready-made layers for built pipelines.
//
// Each constructor returns a [conveyor.Layer] for one payload type; the type
// argument is explicit because nothing in the arguments pins it down:
//
//	pipe = pipe.Layer(middleware.Recover[EmailJob](logger)).
//	    Layer(middleware.Timeout[EmailJob](30 * time.Second))
//
// Layers wrap the handler synchronously and compose through the pipeline's
// stack; the first layer added sees the request first.
//
// # Built-in Layers
//
//   - [Logging]: logs start, outcome, and duration of each delivery
//   - [Recover]: converts handler panics into errors
//   - [Timeout]: bounds each delivery with a context deadline
//   - [Retry]: re-runs a failed handler in process with backoff delays
//   - [RateLimit]: gates deliveries through a shared rate.Limiter
//   - [Tracing]: wraps each delivery in an OpenTelemetry span
//   - [Metrics]: records per-delivery duration and outcome counters
//
// # Writing Custom Layers
//
//	func Stamp[T any]() conveyor.Layer[T] {
//	    return func(next conveyor.Handler[T]) conveyor.Handler[T] {
//	        return conveyor.HandlerFunc[T](func(ctx context.Context, req *conveyor.Request[T]) (any, error) {
//	            // pre-processing
//	            res, err := next.Handle(ctx, req)
//	            // post-processing
//	            return res, err
//	        })
//	    }
//	}
//
// A layer must call next to continue the chain unless it intends to
// short-circuit (rate limiting, circuit breaking).
package middleware

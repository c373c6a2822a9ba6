package job

import "time"

// Options configures per-job behavior: delivery budget, queue, priority,
// timing, and payload encoding.
type Options struct {
	// MaxAttempts is how many deliveries a job gets before moving to dead.
	MaxAttempts int

	// Queue is the queue name the job is enqueued to.
	Queue string

	// Priority determines dequeue order. Higher values dequeue first.
	Priority int

	// Timeout bounds a single delivery. Zero means unlimited.
	Timeout time.Duration

	// NotBefore delays the first delivery. Zero means immediately.
	NotBefore time.Time

	// Codec names the payload encoding ("json", "msgpack").
	Codec string
}

// DefaultOptions returns the defaults applied by New and NewDefinition.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Queue:       "default",
		Timeout:     5 * time.Minute,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithMaxAttempts sets the delivery budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithQueue sets the queue name.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithPriority sets the dequeue priority. Higher dequeues first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout bounds a single delivery.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithNotBefore delays the first delivery until t.
func WithNotBefore(t time.Time) Option {
	return func(o *Options) { o.NotBefore = t }
}

// WithCodec names the payload encoding.
func WithCodec(name string) Option {
	return func(o *Options) { o.Codec = name }
}

package conveyor

import (
	"time"

	"github.com/xraph/conveyor/id"
)

// Request is the envelope for a single job in flight. T is the payload type
// fixed by the worker's source. The builder never inspects a Request; it is
// produced by sources and consumed by handlers.
type Request[T any] struct {
	// ID identifies the underlying job across deliveries.
	ID id.ID

	// Payload is the job value to process.
	Payload T

	// Attempt is the current delivery attempt, starting at 1.
	Attempt int

	// MaxAttempts bounds delivery attempts. Zero means the source's default.
	MaxAttempts int

	// EnqueuedAt is when the job entered its source.
	EnqueuedAt time.Time
}

// NewRequest wraps a payload in a first-attempt request with a fresh job ID.
// Sources backed by a store build requests from persisted records instead.
func NewRequest[T any](payload T) *Request[T] {
	return &Request[T]{
		ID:         id.New(id.PrefixJob),
		Payload:    payload,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
}

package conveyor

import "errors"

// Sentinel errors shared across sources, stores, and the monitor. Backends
// wrap these with their own context; callers match with errors.Is.
var (
	// ErrJobNotFound is returned when a job ID has no record.
	ErrJobNotFound = errors.New("conveyor: job not found")

	// ErrDuplicateID is returned when enqueueing a job whose ID already
	// exists in the store.
	ErrDuplicateID = errors.New("conveyor: duplicate job id")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("conveyor: store closed")

	// ErrLeaseExpired is returned when extending or settling a delivery
	// whose lease another worker has already reclaimed.
	ErrLeaseExpired = errors.New("conveyor: lease expired")

	// ErrSourceClosed is returned by Poll once a closeable source has
	// drained: no further requests will ever arrive.
	ErrSourceClosed = errors.New("conveyor: source closed")

	// ErrWorkerExists is returned when registering a worker under a name
	// the monitor already holds.
	ErrWorkerExists = errors.New("conveyor: worker already registered")

	// ErrMonitorRunning is returned when registering on or running a
	// monitor that is already running.
	ErrMonitorRunning = errors.New("conveyor: monitor already running")

	// ErrMonitorStopped is returned when registering on or running a
	// monitor whose run has already finished.
	ErrMonitorStopped = errors.New("conveyor: monitor stopped")
)

// permanentError marks an error as not worth retrying.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so retry-aware sources and layers fail the job
// immediately instead of rescheduling it. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Package hook defines lifecycle hooks for job delivery. Hooks are notified
// as deliveries start, settle, and fail, and can react to them: recording
// audit trails, emitting webhooks, feeding dashboards.
//
// Each lifecycle event is a separate interface so a hook opts in only to
// the events it cares about.
package hook

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// Started is called when a worker begins processing a delivery.
type Started interface {
	OnJobStarted(ctx context.Context, worker string, jobID id.ID, attempt int) error
}

// Completed is called after a delivery finishes successfully.
type Completed interface {
	OnJobCompleted(ctx context.Context, worker string, jobID id.ID, elapsed time.Duration) error
}

// Failed is called when a handler returns an error, before the source
// decides between retry and dead.
type Failed interface {
	OnJobFailed(ctx context.Context, worker string, jobID id.ID, attempt int, jobErr error) error
}

// Retried is called when a failed delivery is rescheduled.
type Retried interface {
	OnJobRetried(ctx context.Context, worker string, jobID id.ID, attempt int, retryAt time.Time) error
}

// Dead is called when a job is moved to the dead state: attempts exhausted,
// a Permanent error, or an undeliverable record.
type Dead interface {
	OnJobDead(ctx context.Context, worker string, jobID id.ID, jobErr string) error
}

// Shutdown is called during graceful monitor shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

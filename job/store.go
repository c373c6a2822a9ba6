package job

import (
	"context"
	"time"

	"github.com/xraph/conveyor/id"
)

// ListOpts controls pagination and filtering for list queries.
type ListOpts struct {
	// Limit caps the number of jobs returned. Zero means no limit.
	Limit int
	// Offset skips that many jobs.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Kind filters by job kind. Empty means all kinds.
	Kind string
}

// CountOpts controls filtering for count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Kind filters by job kind. Empty means all kinds.
	Kind string
	// State filters by state. Empty means all states.
	State State
}

// Store is the persistence contract queue sources and the monitor pull from.
// All mutating calls that settle a delivery carry the lease ID granted at
// dequeue; a store must reject them with conveyor.ErrLeaseExpired when the
// lease is no longer the job's current one.
type Store interface {
	// Enqueue persists a new pending job. Re-enqueueing an existing ID
	// fails with conveyor.ErrDuplicateID.
	Enqueue(ctx context.Context, j *Job) error

	// Dequeue atomically leases up to limit deliverable jobs from the given
	// queues for owner: pending or retry state, NotBefore in the past.
	// Claimed jobs move to active with Attempt incremented and a lease held
	// until now+leaseFor. Order is priority descending, then NotBefore
	// ascending. An empty queues slice means all queues.
	Dequeue(ctx context.Context, queues []string, owner string, leaseFor time.Duration, limit int) ([]*Job, error)

	// Get retrieves a job by ID, or conveyor.ErrJobNotFound.
	Get(ctx context.Context, jobID id.ID) (*Job, error)

	// Update persists changes to an existing job.
	Update(ctx context.Context, j *Job) error

	// Delete removes a job by ID.
	Delete(ctx context.Context, jobID id.ID) error

	// ListByState returns jobs in the given state.
	ListByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// Count returns the number of jobs matching opts.
	Count(ctx context.Context, opts CountOpts) (int64, error)

	// ExtendLease pushes the lease expiry to until. It fails with
	// conveyor.ErrLeaseExpired when leaseID is not the job's current lease.
	ExtendLease(ctx context.Context, jobID, leaseID id.ID, until time.Time) error

	// Complete settles a delivery as done.
	Complete(ctx context.Context, jobID, leaseID id.ID) error

	// Retry settles a delivery as failed but retryable: the job returns to
	// retry state and becomes deliverable again at retryAt.
	Retry(ctx context.Context, jobID, leaseID id.ID, retryAt time.Time, jobErr string) error

	// Kill settles a delivery as permanently failed: the job moves to dead.
	Kill(ctx context.Context, jobID, leaseID id.ID, jobErr string) error

	// Cancel withdraws a job that has not completed. Active deliveries keep
	// running; their settlement becomes a no-op against the canceled record.
	Cancel(ctx context.Context, jobID id.ID) error

	// ReclaimExpired returns active jobs whose leases lapsed before now to
	// pending state, clearing the lease, and reports the reclaimed jobs.
	// Jobs with no attempts left move to dead instead.
	ReclaimExpired(ctx context.Context, now time.Time, limit int) ([]*Job, error)
}

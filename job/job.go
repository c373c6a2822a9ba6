package job

import (
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
)

// State is the lifecycle state of a job.
type State string

const (
	// StatePending means the job waits for a worker to lease it.
	StatePending State = "pending"
	// StateActive means a worker holds a live lease on the job.
	StateActive State = "active"
	// StateRetry means a delivery failed and the job waits for NotBefore.
	StateRetry State = "retry"
	// StateDone means the job finished successfully.
	StateDone State = "done"
	// StateDead means the job exhausted its attempts or failed permanently.
	StateDead State = "dead"
	// StateCanceled means the job was withdrawn before completion.
	StateCanceled State = "canceled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateDead || s == StateCanceled
}

// Job is a persisted unit of work.
type Job struct {
	conveyor.Entity

	ID          id.ID         `json:"id"`
	Kind        string        `json:"kind"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	Codec       string        `json:"codec,omitempty"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	NotBefore   time.Time     `json:"not_before"`
	LeaseID     id.ID         `json:"lease_id,omitempty"`
	LeaseOwner  string        `json:"lease_owner,omitempty"`
	LeaseUntil  *time.Time    `json:"lease_until,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	DoneAt      *time.Time    `json:"done_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// New builds a pending job of the given kind with an encoded payload.
func New(kind string, payload []byte, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	j := &Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.New(id.PrefixJob),
		Kind:        kind,
		Queue:       o.Queue,
		Payload:     payload,
		Codec:       o.Codec,
		State:       StatePending,
		Priority:    o.Priority,
		MaxAttempts: o.MaxAttempts,
		NotBefore:   o.NotBefore,
		Timeout:     o.Timeout,
	}
	if j.NotBefore.IsZero() {
		j.NotBefore = j.CreatedAt
	}
	return j
}

// Leased reports whether the job holds a lease that is still live at now.
func (j *Job) Leased(now time.Time) bool {
	return j.State == StateActive && j.LeaseUntil != nil && now.Before(*j.LeaseUntil)
}

// LeaseExpired reports whether the job is active but its lease lapsed.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.State == StateActive && (j.LeaseUntil == nil || !now.Before(*j.LeaseUntil))
}

// AttemptsLeft reports whether the job may be delivered again.
func (j *Job) AttemptsLeft() bool {
	return j.Attempt < j.MaxAttempts
}

// Grant moves the job to active under a fresh lease held by owner until
// the given time, counting a new delivery attempt. Stores call this when
// dequeueing; it does not persist anything itself.
func (j *Job) Grant(owner string, until time.Time) {
	now := time.Now().UTC()
	j.State = StateActive
	j.Attempt++
	j.LeaseID = id.New(id.PrefixLease)
	j.LeaseOwner = owner
	j.LeaseUntil = &until
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.Touch()
}

// ClearLease drops lease bookkeeping after settlement or reclaim.
func (j *Job) ClearLease() {
	j.LeaseID = id.Nil
	j.LeaseOwner = ""
	j.LeaseUntil = nil
}

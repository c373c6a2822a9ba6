// Package memory provides a fully in-memory store. Safe for concurrent use.
// Intended for unit tests, examples, and single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

var _ job.Store = (*Store)(nil)

// Store keeps all job records in a map guarded by one RWMutex. Reads and
// writes hand out copies so callers never share record memory with the
// store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Enqueue / Get / Update / Delete
// ──────────────────────────────────────────────────

// Enqueue persists a new pending job.
func (m *Store) Enqueue(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrDuplicateID
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// Get retrieves a job by ID.
func (m *Store) Get(_ context.Context, jobID id.ID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// Update persists changes to an existing job.
func (m *Store) Update(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// Delete removes a job by ID.
func (m *Store) Delete(_ context.Context, jobID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ──────────────────────────────────────────────────
// Dequeue and leases
// ──────────────────────────────────────────────────

// Dequeue atomically leases up to limit deliverable jobs for owner.
func (m *Store) Dequeue(_ context.Context, queues []string, owner string, leaseFor time.Duration, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != job.StatePending && j.State != job.StateRetry {
			continue
		}
		if j.NotBefore.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	// Priority DESC, then NotBefore ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].NotBefore.Before(candidates[k].NotBefore)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.Grant(owner, now.Add(leaseFor))
		cp := *j
		result[i] = &cp
	}
	return result, nil
}

// ExtendLease pushes the lease expiry for a held delivery.
func (m *Store) ExtendLease(_ context.Context, jobID, leaseID id.ID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.held(jobID, leaseID)
	if err != nil {
		return err
	}
	u := until
	j.LeaseUntil = &u
	j.Touch()
	return nil
}

// ReclaimExpired returns lapsed active jobs to pending, or dead when their
// attempt budget is spent.
func (m *Store) ReclaimExpired(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*job.Job
	for _, j := range m.jobs {
		if j.LeaseExpired(now) {
			expired = append(expired, j)
		}
	}
	sort.Slice(expired, func(i, k int) bool {
		return expired[i].LeaseUntil.Before(*expired[k].LeaseUntil)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	reclaimed := make([]*job.Job, len(expired))
	for i, j := range expired {
		j.ClearLease()
		if j.AttemptsLeft() {
			j.State = job.StatePending
		} else {
			j.State = job.StateDead
			j.LastError = "lease expired with no attempts left"
			done := now
			j.DoneAt = &done
		}
		j.Touch()
		cp := *j
		reclaimed[i] = &cp
	}
	return reclaimed, nil
}

// ──────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────

// Complete settles a delivery as done.
func (m *Store) Complete(_ context.Context, jobID, leaseID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.held(jobID, leaseID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	j.State = job.StateDone
	j.DoneAt = &now
	j.ClearLease()
	j.Touch()
	return nil
}

// Retry settles a delivery as retryable at retryAt.
func (m *Store) Retry(_ context.Context, jobID, leaseID id.ID, retryAt time.Time, jobErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.held(jobID, leaseID)
	if err != nil {
		return err
	}
	j.State = job.StateRetry
	j.NotBefore = retryAt
	j.LastError = jobErr
	j.ClearLease()
	j.Touch()
	return nil
}

// Kill settles a delivery as permanently failed.
func (m *Store) Kill(_ context.Context, jobID, leaseID id.ID, jobErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.held(jobID, leaseID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	j.State = job.StateDead
	j.LastError = jobErr
	j.DoneAt = &now
	j.ClearLease()
	j.Touch()
	return nil
}

// Cancel withdraws a job that has not reached a terminal state.
func (m *Store) Cancel(_ context.Context, jobID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if j.State.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	j.State = job.StateCanceled
	j.DoneAt = &now
	j.ClearLease()
	j.Touch()
	return nil
}

// held looks a job up and verifies leaseID is its current lease.
func (m *Store) held(jobID, leaseID id.ID) (*job.Job, error) {
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	if j.State != job.StateActive || j.LeaseID != leaseID {
		return nil, conveyor.ErrLeaseExpired
	}
	return j, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// ListByState returns jobs in the given state ordered by creation time.
func (m *Store) ListByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// Count returns the number of jobs matching opts.
func (m *Store) Count(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Enqueue persists a new job in pending state.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrDuplicateID
		}
		return fmt.Errorf("conveyor/bun: enqueue job: %w", err)
	}
	return nil
}

// Dequeue claims up to limit deliverable jobs from the given queues and
// grants a fresh lease on each, using SELECT FOR UPDATE SKIP LOCKED for
// concurrent-safe claims.
func (s *Store) Dequeue(ctx context.Context, queues []string, owner string, leaseFor time.Duration, limit int) ([]*job.Job, error) {
	if queues == nil {
		queues = []string{} // nil would encode as SQL NULL, not an empty array
	}
	if limit < 0 {
		limit = 0
	}
	until := time.Now().UTC().Add(leaseFor)

	var jobs []*job.Job
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var ids []string
		err := tx.NewRaw(`
			SELECT id FROM conveyor_jobs
			WHERE state IN ('pending', 'retry')
			  AND (cardinality(?0::text[]) = 0 OR queue = ANY(?0))
			  AND not_before <= NOW()
			ORDER BY priority DESC, not_before ASC
			FOR UPDATE SKIP LOCKED
			LIMIT NULLIF(?1, 0)`,
			pgdialect.Array(queues), limit,
		).Scan(ctx, &ids)
		if err != nil {
			return fmt.Errorf("conveyor/bun: dequeue select: %w", err)
		}

		jobs = make([]*job.Job, 0, len(ids))
		for _, jobID := range ids {
			leaseID := id.New(id.PrefixLease)
			var m jobModel
			_, err := tx.NewRaw(`
				UPDATE conveyor_jobs SET
					state = 'active',
					attempt = attempt + 1,
					lease_id = ?1,
					lease_owner = ?2,
					lease_until = ?3,
					started_at = COALESCE(started_at, NOW()),
					updated_at = NOW()
				WHERE id = ?0
				RETURNING *`,
				jobID, leaseID.String(), owner, until,
			).Exec(ctx, &m)
			if err != nil {
				return fmt.Errorf("conveyor/bun: dequeue claim: %w", err)
			}
			j, convErr := fromJobModel(&m)
			if convErr != nil {
				return convErr
			}
			jobs = append(jobs, j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.ID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.ID) error {
	res, err := s.db.NewDelete().
		TableExpr("conveyor_jobs").
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ListByState returns jobs matching the given state.
func (s *Store) ListByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("state = ?", string(state))

	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}
	if opts.Kind != "" {
		q = q.Where("kind = ?", opts.Kind)
	}

	q = q.Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/bun: list jobs by state: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().TableExpr("conveyor_jobs")

	if opts.Queue != "" {
		q = q.Where("queue = ?", opts.Queue)
	}
	if opts.Kind != "" {
		q = q.Where("kind = ?", opts.Kind)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("conveyor/bun: count jobs: %w", err)
	}
	return int64(count), nil
}

// ExtendLease pushes the lease expiry for a held delivery.
func (s *Store) ExtendLease(ctx context.Context, jobID, leaseID id.ID, until time.Time) error {
	res, err := s.db.NewUpdate().
		TableExpr("conveyor_jobs").
		Set("lease_until = ?", until).
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'active'").
		Where("lease_id = ?", leaseID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: extend lease: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Complete settles a delivery as done.
func (s *Store) Complete(ctx context.Context, jobID, leaseID id.ID) error {
	res, err := s.db.NewUpdate().
		TableExpr("conveyor_jobs").
		Set("state = 'done'").
		Set("done_at = NOW()").
		Set("lease_id = ''").
		Set("lease_owner = ''").
		Set("lease_until = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'active'").
		Where("lease_id = ?", leaseID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: complete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Retry settles a delivery as retryable at retryAt.
func (s *Store) Retry(ctx context.Context, jobID, leaseID id.ID, retryAt time.Time, jobErr string) error {
	res, err := s.db.NewUpdate().
		TableExpr("conveyor_jobs").
		Set("state = 'retry'").
		Set("not_before = ?", retryAt).
		Set("last_error = ?", jobErr).
		Set("lease_id = ''").
		Set("lease_owner = ''").
		Set("lease_until = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'active'").
		Where("lease_id = ?", leaseID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: retry job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Kill settles a delivery as permanently failed.
func (s *Store) Kill(ctx context.Context, jobID, leaseID id.ID, jobErr string) error {
	res, err := s.db.NewUpdate().
		TableExpr("conveyor_jobs").
		Set("state = 'dead'").
		Set("last_error = ?", jobErr).
		Set("done_at = NOW()").
		Set("lease_id = ''").
		Set("lease_owner = ''").
		Set("lease_until = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state = 'active'").
		Where("lease_id = ?", leaseID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: kill job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Cancel withdraws a non-terminal job. Canceling a terminal job is a no-op.
func (s *Store) Cancel(ctx context.Context, jobID id.ID) error {
	res, err := s.db.NewUpdate().
		TableExpr("conveyor_jobs").
		Set("state = 'canceled'").
		Set("done_at = NOW()").
		Set("lease_id = ''").
		Set("lease_owner = ''").
		Set("lease_until = NULL").
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("state NOT IN ('done', 'dead', 'canceled')").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("conveyor/bun: cancel job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		exists, existsErr := s.jobExists(ctx, jobID)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return conveyor.ErrJobNotFound
		}
	}
	return nil
}

// ReclaimExpired returns active jobs with lapsed leases to pending, or
// dead when their attempt budget is spent, and reports what it moved.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	if limit < 0 {
		limit = 0
	}
	var models []jobModel
	_, err := s.db.NewRaw(`
		WITH expired AS (
			SELECT id FROM conveyor_jobs
			WHERE state = 'active'
			  AND (lease_until IS NULL OR lease_until <= ?0)
			ORDER BY lease_until ASC
			FOR UPDATE SKIP LOCKED
			LIMIT NULLIF(?1, 0)
		)
		UPDATE conveyor_jobs j SET
			state = CASE WHEN j.attempt < j.max_attempts THEN 'pending' ELSE 'dead' END,
			last_error = CASE WHEN j.attempt < j.max_attempts
				THEN j.last_error ELSE 'lease expired with no attempts left' END,
			done_at = CASE WHEN j.attempt < j.max_attempts THEN j.done_at ELSE ?0 END,
			lease_id = '', lease_owner = '', lease_until = NULL,
			updated_at = NOW()
		FROM expired
		WHERE j.id = expired.id
		RETURNING j.*`,
		now, limit,
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("conveyor/bun: reclaim expired: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// leaseLost distinguishes a missing job from a lost lease after a guarded
// settlement update touched zero rows.
func (s *Store) leaseLost(ctx context.Context, jobID id.ID) error {
	exists, err := s.jobExists(ctx, jobID)
	if err != nil {
		return err
	}
	if !exists {
		return conveyor.ErrJobNotFound
	}
	return conveyor.ErrLeaseExpired
}

func (s *Store) jobExists(ctx context.Context, jobID id.ID) (bool, error) {
	exists, err := s.db.NewSelect().
		TableExpr("conveyor_jobs").
		Where("id = ?", jobID.String()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("conveyor/bun: check job exists: %w", err)
	}
	return exists, nil
}

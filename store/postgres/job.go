package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// jobColumns is the canonical column list for SELECT ... RETURNING.
const jobColumns = `
	id, kind, queue, payload, codec, state, priority, attempt, max_attempts,
	last_error, not_before, lease_id, lease_owner, lease_until,
	started_at, done_at, timeout, created_at, updated_at`

// Enqueue persists a new job in pending state.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (
			id, kind, queue, payload, codec, state, priority, attempt, max_attempts,
			last_error, not_before, lease_id, lease_owner, lease_until,
			started_at, done_at, timeout, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19
		)`,
		j.ID.String(), j.Kind, j.Queue, j.Payload, j.Codec, string(j.State),
		j.Priority, j.Attempt, j.MaxAttempts,
		j.LastError, j.NotBefore, j.LeaseID.String(), j.LeaseOwner, j.LeaseUntil,
		j.StartedAt, j.DoneAt, j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrDuplicateID
		}
		return fmt.Errorf("conveyor/postgres: enqueue job: %w", err)
	}
	return nil
}

// Dequeue claims up to limit deliverable jobs from the given queues and
// grants a fresh lease on each. SELECT FOR UPDATE SKIP LOCKED keeps
// concurrent workers from claiming the same rows.
func (s *Store) Dequeue(ctx context.Context, queues []string, owner string, leaseFor time.Duration, limit int) ([]*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: dequeue begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if queues == nil {
		queues = []string{} // nil would encode as SQL NULL, not an empty array
	}
	if limit < 0 {
		limit = 0
	}
	// NULLIF turns limit 0 into LIMIT NULL, i.e. no limit.
	rows, err := tx.Query(ctx, `
		SELECT id FROM conveyor_jobs
		WHERE state IN ('pending', 'retry')
		  AND (cardinality($1::text[]) = 0 OR queue = ANY($1))
		  AND not_before <= NOW()
		ORDER BY priority DESC, not_before ASC
		FOR UPDATE SKIP LOCKED
		LIMIT NULLIF($2, 0)`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: dequeue select: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: dequeue collect ids: %w", err)
	}

	until := time.Now().UTC().Add(leaseFor)
	jobs := make([]*job.Job, 0, len(ids))
	for _, jobID := range ids {
		leaseID := id.New(id.PrefixLease)
		row := tx.QueryRow(ctx, `
			UPDATE conveyor_jobs SET
				state = 'active',
				attempt = attempt + 1,
				lease_id = $2,
				lease_owner = $3,
				lease_until = $4,
				started_at = COALESCE(started_at, NOW()),
				updated_at = NOW()
			WHERE id = $1
			RETURNING`+jobColumns,
			jobID, leaseID.String(), owner, until,
		)
		j, err := scanJob(row)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: dequeue claim: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: dequeue commit: %w", err)
	}
	return jobs, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.ID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+jobColumns+` FROM conveyor_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			kind = $2, queue = $3, payload = $4, codec = $5, state = $6,
			priority = $7, attempt = $8, max_attempts = $9, last_error = $10,
			not_before = $11, lease_id = $12, lease_owner = $13, lease_until = $14,
			started_at = $15, done_at = $16, timeout = $17, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Kind, j.Queue, j.Payload, j.Codec, string(j.State),
		j.Priority, j.Attempt, j.MaxAttempts, j.LastError,
		j.NotBefore, j.LeaseID.String(), j.LeaseOwner, j.LeaseUntil,
		j.StartedAt, j.DoneAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ListByState returns jobs matching the given state.
func (s *Store) ListByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT` + jobColumns + ` FROM conveyor_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, opts.Kind)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, opts.Kind)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	return count, nil
}

// ExtendLease pushes the lease expiry for a held delivery.
func (s *Store) ExtendLease(ctx context.Context, jobID, leaseID id.ID, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET lease_until = $3, updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_id = $2`,
		jobID.String(), leaseID.String(), until,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Complete settles a delivery as done.
func (s *Store) Complete(ctx context.Context, jobID, leaseID id.ID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			state = 'done', done_at = NOW(),
			lease_id = '', lease_owner = '', lease_until = NULL,
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_id = $2`,
		jobID.String(), leaseID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Retry settles a delivery as retryable at retryAt.
func (s *Store) Retry(ctx context.Context, jobID, leaseID id.ID, retryAt time.Time, jobErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			state = 'retry', not_before = $3, last_error = $4,
			lease_id = '', lease_owner = '', lease_until = NULL,
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_id = $2`,
		jobID.String(), leaseID.String(), retryAt, jobErr,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Kill settles a delivery as permanently failed.
func (s *Store) Kill(ctx context.Context, jobID, leaseID id.ID, jobErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			state = 'dead', last_error = $3, done_at = NOW(),
			lease_id = '', lease_owner = '', lease_until = NULL,
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND lease_id = $2`,
		jobID.String(), leaseID.String(), jobErr,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: kill job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Cancel withdraws a non-terminal job. Canceling a terminal job is a no-op.
func (s *Store) Cancel(ctx context.Context, jobID id.ID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			state = 'canceled', done_at = NOW(),
			lease_id = '', lease_owner = '', lease_until = NULL,
			updated_at = NOW()
		WHERE id = $1 AND state NOT IN ('done', 'dead', 'canceled')`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.jobExists(ctx, jobID)
		if err != nil {
			return err
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
	rows, err := s.pool.Query(ctx, `
		WITH expired AS (
			SELECT id FROM conveyor_jobs
			WHERE state = 'active'
			  AND (lease_until IS NULL OR lease_until <= $1)
			ORDER BY lease_until ASC
			FOR UPDATE SKIP LOCKED
			LIMIT NULLIF($2, 0)
		)
		UPDATE conveyor_jobs j SET
			state = CASE WHEN j.attempt < j.max_attempts THEN 'pending' ELSE 'dead' END,
			last_error = CASE WHEN j.attempt < j.max_attempts
				THEN j.last_error ELSE 'lease expired with no attempts left' END,
			done_at = CASE WHEN j.attempt < j.max_attempts THEN j.done_at ELSE $1 END,
			lease_id = '', lease_owner = '', lease_until = NULL,
			updated_at = NOW()
		FROM expired
		WHERE j.id = expired.id
		RETURNING`+qualifiedJobColumns,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: reclaim expired: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// qualifiedJobColumns is jobColumns with the update alias, for RETURNING
// clauses where the joined CTE would make bare names ambiguous.
const qualifiedJobColumns = `
	j.id, j.kind, j.queue, j.payload, j.codec, j.state, j.priority, j.attempt,
	j.max_attempts, j.last_error, j.not_before, j.lease_id, j.lease_owner,
	j.lease_until, j.started_at, j.done_at, j.timeout, j.created_at, j.updated_at`

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
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conveyor_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conveyor/postgres: check job exists: %w", err)
	}
	return exists, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		leaseStr  string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Kind, &j.Queue, &j.Payload, &j.Codec, &stateStr,
		&j.Priority, &j.Attempt, &j.MaxAttempts,
		&j.LastError, &j.NotBefore, &leaseStr, &j.LeaseOwner, &j.LeaseUntil,
		&j.StartedAt, &j.DoneAt, &timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseWithPrefix(idStr, id.PrefixJob)
	if parseErr != nil {
		return nil, fmt.Errorf("conveyor/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if leaseStr != "" {
		parsedLease, leaseErr := id.ParseWithPrefix(leaseStr, id.PrefixLease)
		if leaseErr == nil {
			j.LeaseID = parsedLease
		}
	}
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

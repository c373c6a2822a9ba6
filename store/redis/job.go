package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// scheduledKey returns the Sorted Set of not-yet-due jobs for a queue,
// scored by NotBefore in unix milliseconds: conveyor:scheduled:{name}
func scheduledKey(name string) string { return keyPrefix + "scheduled:" + name }

// Enqueue stores the job as a Hash and indexes it: immediately deliverable
// jobs go to the queue's ready set, future ones to its scheduled set.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return conveyor.ErrDuplicateID
	}

	now := time.Now().UTC()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, queuesKey, j.Queue)
	if j.NotBefore.After(now) {
		pipe.ZAdd(ctx, scheduledKey(j.Queue), goredis.Z{Score: float64(j.NotBefore.UnixMilli()), Member: jID})
	} else {
		pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: readyScore(j.Priority, j.NotBefore), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: enqueue job: %w", err)
	}
	return nil
}

// Dequeue promotes due scheduled jobs, then atomically pops up to limit
// ready jobs and grants leases on them.
func (s *Store) Dequeue(ctx context.Context, queues []string, owner string, leaseFor time.Duration, limit int) ([]*job.Job, error) {
	if len(queues) == 0 {
		all, err := s.client.SMembers(ctx, queuesKey).Result()
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: dequeue list queues: %w", err)
		}
		sort.Strings(all)
		queues = all
	}

	now := time.Now().UTC()
	until := now.Add(leaseFor)
	var jobs []*job.Job

	for _, q := range queues {
		if limit > 0 && len(jobs) >= limit {
			break
		}
		if err := s.promote(ctx, q, now); err != nil {
			return nil, err
		}

		remaining := int64(limit - len(jobs))
		if limit <= 0 {
			remaining = -1
		}
		members, err := s.client.ZPopMin(ctx, queueKey(q), remaining).Result()
		if err != nil {
			return nil, fmt.Errorf("conveyor/redis: dequeue zpopmin: %w", err)
		}

		for _, z := range members {
			jID, ok := z.Member.(string)
			if !ok {
				continue
			}
			j, err := s.claim(ctx, jID, owner, now, until)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// promote moves scheduled jobs whose NotBefore has passed into the ready set.
func (s *Store) promote(ctx context.Context, queue string, now time.Time) error {
	due, err := s.client.ZRangeByScore(ctx, scheduledKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: promote scan: %w", err)
	}

	for _, jID := range due {
		key := jobKey(jID)
		vals, err := s.client.HMGet(ctx, key, "priority", "not_before").Result()
		if err != nil {
			return fmt.Errorf("conveyor/redis: promote hmget: %w", err)
		}
		priority, notBefore := 0, now
		if v, ok := vals[0].(string); ok {
			priority, _ = strconv.Atoi(v) //nolint:errcheck // best-effort parse from trusted data
		}
		if v, ok := vals[1].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				notBefore = t
			}
		}

		pipe := s.client.TxPipeline()
		pipe.ZAdd(ctx, queueKey(queue), goredis.Z{Score: readyScore(priority, notBefore), Member: jID})
		pipe.ZRem(ctx, scheduledKey(queue), jID)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("conveyor/redis: promote move: %w", err)
		}
	}
	return nil
}

// claim grants a lease on a popped job and returns the updated record.
func (s *Store) claim(ctx context.Context, jID, owner string, now, until time.Time) (*job.Job, error) {
	key := jobKey(jID)
	leaseID := id.New(id.PrefixLease)

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "attempt", 1)
	pipe.HSet(ctx, key,
		"state", string(job.StateActive),
		"lease_id", leaseID.String(),
		"lease_owner", owner,
		"lease_until", until.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	)
	// Only the first delivery stamps started_at.
	pipe.HSetNX(ctx, key, "started_at", now.Format(time.RFC3339Nano))
	pipe.ZAdd(ctx, activeKey, goredis.Z{Score: float64(until.UnixMilli()), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("conveyor/redis: claim job: %w", err)
	}
	return s.getJobByKey(ctx, key)
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.ID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// Update persists changes to an existing job's record. Queue index
// membership is not reconciled; use the settlement calls for state moves.
func (s *Store) Update(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: update exists: %w", err)
	}
	if exists == 0 {
		return conveyor.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("conveyor/redis: update job: %w", err)
	}
	return nil
}

// Delete removes a job and all its index entries.
func (s *Store) Delete(ctx context.Context, jobID id.ID) error {
	jID := jobID.String()
	key := jobKey(jID)

	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return conveyor.ErrJobNotFound
		}
		return fmt.Errorf("conveyor/redis: delete get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, queueKey(q), jID)
	pipe.ZRem(ctx, scheduledKey(q), jID)
	pipe.ZRem(ctx, activeKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: delete job: %w", err)
	}
	return nil
}

// ExtendLease pushes the lease expiry for a held delivery.
func (s *Store) ExtendLease(ctx context.Context, jobID, leaseID id.ID, until time.Time) error {
	key, err := s.verifyLease(ctx, jobID, leaseID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"lease_until", until.Format(time.RFC3339Nano),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, activeKey, goredis.Z{Score: float64(until.UnixMilli()), Member: jobID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: extend lease: %w", err)
	}
	return nil
}

// Complete settles a delivery as done.
func (s *Store) Complete(ctx context.Context, jobID, leaseID id.ID) error {
	key, err := s.verifyLease(ctx, jobID, leaseID)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(job.StateDone),
		"done_at", now,
		"lease_id", "",
		"lease_owner", "",
		"lease_until", "",
		"updated_at", now,
	)
	pipe.ZRem(ctx, activeKey, jobID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: complete job: %w", err)
	}
	return nil
}

// Retry settles a delivery as retryable at retryAt.
func (s *Store) Retry(ctx context.Context, jobID, leaseID id.ID, retryAt time.Time, jobErr string) error {
	key, err := s.verifyLease(ctx, jobID, leaseID)
	if err != nil {
		return err
	}

	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		return fmt.Errorf("conveyor/redis: retry get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(job.StateRetry),
		"not_before", retryAt.Format(time.RFC3339Nano),
		"last_error", jobErr,
		"lease_id", "",
		"lease_owner", "",
		"lease_until", "",
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.ZRem(ctx, activeKey, jobID.String())
	pipe.ZAdd(ctx, scheduledKey(q), goredis.Z{Score: float64(retryAt.UnixMilli()), Member: jobID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: retry job: %w", err)
	}
	return nil
}

// Kill settles a delivery as permanently failed.
func (s *Store) Kill(ctx context.Context, jobID, leaseID id.ID, jobErr string) error {
	key, err := s.verifyLease(ctx, jobID, leaseID)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", string(job.StateDead),
		"last_error", jobErr,
		"done_at", now,
		"lease_id", "",
		"lease_owner", "",
		"lease_until", "",
		"updated_at", now,
	)
	pipe.ZRem(ctx, activeKey, jobID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: kill job: %w", err)
	}
	return nil
}

// Cancel withdraws a non-terminal job.
func (s *Store) Cancel(ctx context.Context, jobID id.ID) error {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.State.Terminal() {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	jID := jobID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID),
		"state", string(job.StateCanceled),
		"done_at", now,
		"lease_id", "",
		"lease_owner", "",
		"lease_until", "",
		"updated_at", now,
	)
	pipe.ZRem(ctx, queueKey(j.Queue), jID)
	pipe.ZRem(ctx, scheduledKey(j.Queue), jID)
	pipe.ZRem(ctx, activeKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: cancel job: %w", err)
	}
	return nil
}

// ReclaimExpired range-scans the active set for lapsed leases and returns
// those jobs to pending, or dead when their attempt budget is spent.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	rangeBy := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli()-1, 10),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}
	expired, err := s.client.ZRangeByScore(ctx, activeKey, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: reclaim scan: %w", err)
	}

	var reclaimed []*job.Job
	for _, jID := range expired {
		key := jobKey(jID)
		j, err := s.getJobByKey(ctx, key)
		if err != nil {
			if errors.Is(err, conveyor.ErrJobNotFound) {
				s.client.ZRem(ctx, activeKey, jID)
				continue
			}
			return nil, err
		}
		if !j.LeaseExpired(now) {
			continue
		}

		ts := now.Format(time.RFC3339Nano)
		pipe := s.client.TxPipeline()
		if j.AttemptsLeft() {
			j.State = job.StatePending
			pipe.HSet(ctx, key,
				"state", string(job.StatePending),
				"lease_id", "",
				"lease_owner", "",
				"lease_until", "",
				"updated_at", ts,
			)
			pipe.ZAdd(ctx, queueKey(j.Queue), goredis.Z{Score: readyScore(j.Priority, j.NotBefore), Member: jID})
		} else {
			j.State = job.StateDead
			j.LastError = "lease expired with no attempts left"
			pipe.HSet(ctx, key,
				"state", string(job.StateDead),
				"last_error", j.LastError,
				"done_at", ts,
				"lease_id", "",
				"lease_owner", "",
				"lease_until", "",
				"updated_at", ts,
			)
		}
		pipe.ZRem(ctx, activeKey, jID)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("conveyor/redis: reclaim job: %w", err)
		}
		j.ClearLease()
		reclaimed = append(reclaimed, j)
	}
	return reclaimed, nil
}

// ListByState returns jobs matching the given state.
func (s *Store) ListByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list smembers: %w", err)
	}
	sort.Strings(ids)

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, err := s.getJobByKey(ctx, jobKey(jID))
		if err != nil {
			continue // skip records deleted mid-scan
		}
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// Count returns the number of jobs matching opts.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, err := s.getJobByKey(ctx, jobKey(jID))
		if err != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

// readyScore orders the ready set: negated priority so higher priority
// sorts first, with a fractional time component for FIFO within a priority.
func readyScore(priority int, notBefore time.Time) float64 {
	return float64(-priority) + float64(notBefore.UnixMilli())/1e15
}

// verifyLease checks that leaseID is the job's current lease and the job is
// active. Returns the job's hash key on success.
func (s *Store) verifyLease(ctx context.Context, jobID, leaseID id.ID) (string, error) {
	key := jobKey(jobID.String())
	vals, err := s.client.HMGet(ctx, key, "state", "lease_id").Result()
	if err != nil {
		return "", fmt.Errorf("conveyor/redis: verify lease: %w", err)
	}
	state, _ := vals[0].(string)
	lease, _ := vals[1].(string)
	if state == "" {
		return "", conveyor.ErrJobNotFound
	}
	if state != string(job.StateActive) || lease != leaseID.String() {
		return "", conveyor.ErrLeaseExpired
	}
	return key, nil
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":           j.ID.String(),
		"kind":         j.Kind,
		"queue":        j.Queue,
		"payload":      string(j.Payload),
		"codec":        j.Codec,
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"attempt":      strconv.Itoa(j.Attempt),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"not_before":   j.NotBefore.Format(time.RFC3339Nano),
		"lease_id":     j.LeaseID.String(),
		"lease_owner":  j.LeaseOwner,
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.LeaseUntil != nil {
		m["lease_until"] = j.LeaseUntil.Format(time.RFC3339Nano)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.DoneAt != nil {
		m["done_at"] = j.DoneAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, conveyor.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseWithPrefix(m["id"], id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])            //nolint:errcheck // best-effort parse from trusted data
	attempt, _ := strconv.Atoi(m["attempt"])              //nolint:errcheck // best-effort parse from trusted data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])     //nolint:errcheck // best-effort parse from trusted data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)  //nolint:errcheck // best-effort parse from trusted data
	notBefore, _ := time.Parse(time.RFC3339Nano, m["not_before"]) //nolint:errcheck // best-effort parse from trusted data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted data

	j := &job.Job{
		Entity: conveyor.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		Kind:        m["kind"],
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		Codec:       m["codec"],
		State:       job.State(m["state"]),
		Priority:    priority,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		LeaseOwner:  m["lease_owner"],
		NotBefore:   notBefore,
		Timeout:     time.Duration(timeout),
	}

	if v := m["lease_id"]; v != "" {
		j.LeaseID, _ = id.ParseWithPrefix(v, id.PrefixLease) //nolint:errcheck // best-effort parse from trusted data
	}
	if v := m["lease_until"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted data
		j.LeaseUntil = &t
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted data
		j.StartedAt = &t
	}
	if v := m["done_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted data
		j.DoneAt = &t
	}
	return j, nil
}

package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// Enqueue persists a new job in pending state.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.Collection(colJobs).InsertOne(ctx, m)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrDuplicateID
		}
		return fmt.Errorf("conveyor/mongo: enqueue job: %w", err)
	}
	return nil
}

// Dequeue claims up to limit deliverable jobs from the given queues. Each
// claim is a single FindOneAndUpdate, so concurrent workers never see the
// same delivery.
func (s *Store) Dequeue(ctx context.Context, queues []string, owner string, leaseFor time.Duration, limit int) ([]*job.Job, error) {
	t := now()
	until := t.Add(leaseFor)
	col := s.db.Collection(colJobs)

	filter := bson.M{
		"state":      bson.M{"$in": []string{string(job.StatePending), string(job.StateRetry)}},
		"not_before": bson.M{"$lte": t},
	}
	if len(queues) > 0 {
		filter["queue"] = bson.M{"$in": queues}
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "priority", Value: -1},
			{Key: "not_before", Value: 1},
		})

	var jobs []*job.Job
	for limit <= 0 || len(jobs) < limit {
		leaseID := id.New(id.PrefixLease)
		// Pipeline update: $ifNull keeps the first delivery's started_at.
		update := bson.A{
			bson.M{"$set": bson.M{
				"state":       string(job.StateActive),
				"attempt":     bson.M{"$add": bson.A{"$attempt", 1}},
				"lease_id":    leaseID.String(),
				"lease_owner": owner,
				"lease_until": until,
				"started_at":  bson.M{"$ifNull": bson.A{"$started_at", t}},
				"updated_at":  t,
			}},
		}

		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("conveyor/mongo: dequeue jobs: %w", err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.ID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()
	res, err := s.db.Collection(colJobs).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.ID) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("conveyor/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ListByState returns jobs matching the given state.
func (s *Store) ListByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{"state": string(state)}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs by state: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs decode: %w", err)
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
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	count, err := s.db.Collection(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: count jobs: %w", err)
	}
	return count, nil
}

// ExtendLease pushes the lease expiry for a held delivery.
func (s *Store) ExtendLease(ctx context.Context, jobID, leaseID id.ID, until time.Time) error {
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		heldFilter(jobID, leaseID),
		bson.M{"$set": bson.M{
			"lease_until": until,
			"updated_at":  now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: extend lease: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Complete settles a delivery as done.
func (s *Store) Complete(ctx context.Context, jobID, leaseID id.ID) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		heldFilter(jobID, leaseID),
		bson.M{
			"$set": bson.M{
				"state":       string(job.StateDone),
				"done_at":     t,
				"lease_id":    "",
				"lease_owner": "",
				"updated_at":  t,
			},
			"$unset": bson.M{"lease_until": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: complete job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Retry settles a delivery as retryable at retryAt.
func (s *Store) Retry(ctx context.Context, jobID, leaseID id.ID, retryAt time.Time, jobErr string) error {
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		heldFilter(jobID, leaseID),
		bson.M{
			"$set": bson.M{
				"state":       string(job.StateRetry),
				"not_before":  retryAt,
				"last_error":  jobErr,
				"lease_id":    "",
				"lease_owner": "",
				"updated_at":  now(),
			},
			"$unset": bson.M{"lease_until": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: retry job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Kill settles a delivery as permanently failed.
func (s *Store) Kill(ctx context.Context, jobID, leaseID id.ID, jobErr string) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		heldFilter(jobID, leaseID),
		bson.M{
			"$set": bson.M{
				"state":       string(job.StateDead),
				"last_error":  jobErr,
				"done_at":     t,
				"lease_id":    "",
				"lease_owner": "",
				"updated_at":  t,
			},
			"$unset": bson.M{"lease_until": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: kill job: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.leaseLost(ctx, jobID)
	}
	return nil
}

// Cancel withdraws a non-terminal job. Canceling a terminal job is a no-op.
func (s *Store) Cancel(ctx context.Context, jobID id.ID) error {
	t := now()
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id": jobID.String(),
			"state": bson.M{"$nin": []string{
				string(job.StateDone), string(job.StateDead), string(job.StateCanceled),
			}},
		},
		bson.M{
			"$set": bson.M{
				"state":       string(job.StateCanceled),
				"done_at":     t,
				"lease_id":    "",
				"lease_owner": "",
				"updated_at":  t,
			},
			"$unset": bson.M{"lease_until": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: cancel job: %w", err)
	}
	if res.MatchedCount == 0 {
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

// ReclaimExpired returns active jobs with lapsed leases to pending, or dead
// when their attempt budget is spent. Like Dequeue it claims one document at
// a time so concurrent reclaimers cannot double-move a job.
func (s *Store) ReclaimExpired(ctx context.Context, nowAt time.Time, limit int) ([]*job.Job, error) {
	col := s.db.Collection(colJobs)

	filter := bson.M{
		"state":       string(job.StateActive),
		"lease_until": bson.M{"$lte": nowAt},
	}
	// Pipeline update: jobs with attempts left go back to pending, the
	// rest are dead.
	attemptsLeft := bson.M{"$lt": bson.A{"$attempt", "$max_attempts"}}
	update := bson.A{
		bson.M{"$set": bson.M{
			"state": bson.M{"$cond": bson.A{
				attemptsLeft, string(job.StatePending), string(job.StateDead),
			}},
			"last_error": bson.M{"$cond": bson.A{
				attemptsLeft, "$last_error", "lease expired with no attempts left",
			}},
			"done_at": bson.M{"$cond": bson.A{
				attemptsLeft, "$done_at", nowAt,
			}},
			"lease_id":    "",
			"lease_owner": "",
			"updated_at":  nowAt,
		}},
		bson.M{"$unset": "lease_until"},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "lease_until", Value: 1}})

	var jobs []*job.Job
	for limit <= 0 || len(jobs) < limit {
		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("conveyor/mongo: reclaim expired: %w", err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// heldFilter matches a job only while the given lease is its current one.
func heldFilter(jobID, leaseID id.ID) bson.M {
	return bson.M{
		"_id":      jobID.String(),
		"state":    string(job.StateActive),
		"lease_id": leaseID.String(),
	}
}

// leaseLost distinguishes a missing job from a lost lease after a guarded
// settlement update matched zero documents.
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
	count, err := s.db.Collection(colJobs).CountDocuments(ctx,
		bson.M{"_id": jobID.String()},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("conveyor/mongo: check job exists: %w", err)
	}
	return count > 0, nil
}

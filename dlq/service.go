package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// ErrNotDead is returned when the job named in a dead-set operation exists
// but is not in the dead state.
var ErrNotDead = errors.New("conveyor/dlq: job is not dead")

// purgeBatch bounds how many dead jobs one purge round trip touches.
const purgeBatch = 100

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRegistry sets the kind registry used to decode payloads in Inspect.
// Without one, Inspect returns the raw record only.
func WithRegistry(r *job.Registry) Option {
	return func(s *Service) { s.registry = r }
}

// Service provides high-level operations over the store's dead jobs.
type Service struct {
	store    job.Store
	registry *job.Registry
	logger   *slog.Logger
}

// NewService creates a dead-set service over store.
func NewService(store job.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns dead jobs, optionally filtered by queue and kind.
func (s *Service) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return s.store.ListByState(ctx, job.StateDead, opts)
}

// Count returns the number of dead jobs, optionally filtered by queue.
func (s *Service) Count(ctx context.Context, queue string) (int64, error) {
	return s.store.Count(ctx, job.CountOpts{State: job.StateDead, Queue: queue})
}

// Get fetches one dead job. A record in any other state fails with
// ErrNotDead.
func (s *Service) Get(ctx context.Context, jobID id.ID) (*job.Job, error) {
	j, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.State != job.StateDead {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotDead, jobID, j.State)
	}
	return j, nil
}

// Inspect fetches a dead job and decodes its payload through the registry.
// With no registry configured, or an unregistered kind, the decoded value
// is nil and the raw record still comes back.
func (s *Service) Inspect(ctx context.Context, jobID id.ID) (*job.Job, any, error) {
	j, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if s.registry == nil {
		return j, nil, nil
	}

	payload, decErr := s.registry.Decode(j)
	if decErr != nil {
		s.logger.Warn("decode dead job payload",
			slog.String("job_id", jobID.String()),
			slog.String("kind", j.Kind),
			slog.String("error", decErr.Error()),
		)
		return j, nil, nil
	}
	return j, payload, nil
}

// Replay resurrects a dead job as a fresh pending one: same kind, queue,
// payload, priority, and attempt budget, new ID, deliverable immediately.
// The dead record is removed so the job cannot be replayed twice.
func (s *Service) Replay(ctx context.Context, jobID id.ID) (*job.Job, error) {
	dead, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	fresh := job.New(dead.Kind, dead.Payload,
		job.WithQueue(dead.Queue),
		job.WithPriority(dead.Priority),
		job.WithMaxAttempts(dead.MaxAttempts),
		job.WithTimeout(dead.Timeout),
		job.WithCodec(dead.Codec),
	)
	if err := s.store.Enqueue(ctx, fresh); err != nil {
		return nil, fmt.Errorf("conveyor/dlq: replay %s: %w", jobID, err)
	}

	s.logger.Info("dead job replayed",
		slog.String("dead_job_id", jobID.String()),
		slog.String("new_job_id", fresh.ID.String()),
		slog.String("kind", fresh.Kind),
	)

	if err := s.store.Delete(ctx, jobID); err != nil {
		// The replacement is already enqueued; surface the cleanup
		// failure without undoing it.
		return fresh, fmt.Errorf("conveyor/dlq: remove replayed %s: %w", jobID, err)
	}
	return fresh, nil
}

// Purge deletes dead jobs, all of them or one queue's worth, and reports
// how many went.
func (s *Service) Purge(ctx context.Context, queue string) (int, error) {
	purged := 0
	for {
		batch, err := s.store.ListByState(ctx, job.StateDead, job.ListOpts{
			Queue: queue,
			Limit: purgeBatch,
		})
		if err != nil {
			return purged, err
		}
		if len(batch) == 0 {
			return purged, nil
		}

		for _, j := range batch {
			if err := s.store.Delete(ctx, j.ID); err != nil {
				return purged, fmt.Errorf("conveyor/dlq: purge %s: %w", j.ID, err)
			}
			purged++
		}
	}
}

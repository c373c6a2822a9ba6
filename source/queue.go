package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/hook"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

// queueConfig holds the type-independent knobs of a Queue. Options mutate
// this struct so they need no type parameter of their own.
type queueConfig struct {
	queues   []string
	owner    string
	leaseFor time.Duration
	batch    int
	retry    backoff.Strategy
	logger   *slog.Logger
	hooks    *hook.Registry
}

// QueueOption configures a Queue.
type QueueOption func(*queueConfig)

// WithQueues sets the store queues to pull from. The default is the
// definition's queue.
func WithQueues(queues ...string) QueueOption {
	return func(c *queueConfig) { c.queues = queues }
}

// WithOwner sets the lease owner recorded on claimed jobs. The default is a
// fresh worker ID per Queue.
func WithOwner(owner string) QueueOption {
	return func(c *queueConfig) { c.owner = owner }
}

// WithLeaseFor sets how long a claimed delivery is leased before the
// reclaimer may hand it to someone else.
func WithLeaseFor(d time.Duration) QueueOption {
	return func(c *queueConfig) { c.leaseFor = d }
}

// WithBatch sets how many jobs one store round trip may claim. Claimed jobs
// are buffered and handed out one per Poll.
func WithBatch(n int) QueueOption {
	return func(c *queueConfig) { c.batch = n }
}

// WithBackoff sets the retry delay strategy for failed deliveries.
func WithBackoff(s backoff.Strategy) QueueOption {
	return func(c *queueConfig) { c.retry = s }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) QueueOption {
	return func(c *queueConfig) { c.logger = logger }
}

// WithHooks sets the lifecycle hook registry. The queue decides between
// retry and dead, so it emits the Retried and Dead events.
func WithHooks(hooks *hook.Registry) QueueOption {
	return func(c *queueConfig) { c.hooks = hooks }
}

// Queue is a Source that pulls persisted jobs of one kind from a job.Store.
// Poll claims jobs under a lease and decodes their payloads through the
// definition; Ack settles the delivery: done on success, a backoff-delayed
// retry on failure, dead once attempts run out or the error is Permanent.
//
// A Queue only understands its definition's kind. When several kinds share a
// store, give each its own queue name; records of a foreign kind claimed
// from a shared queue cannot be decoded and are killed.
type Queue[T any] struct {
	store job.Store
	def   *job.Definition[T]
	cfg   queueConfig

	mu       sync.Mutex
	buf      []*job.Job
	inflight map[id.ID]id.ID // job ID -> lease ID for undelivered settlements
}

var (
	_ conveyor.Source[struct{}] = (*Queue[struct{}])(nil)
	_ conveyor.Acker[struct{}]  = (*Queue[struct{}])(nil)
)

// NewQueue creates a queue source over store for the given kind definition.
func NewQueue[T any](store job.Store, def *job.Definition[T], opts ...QueueOption) *Queue[T] {
	cfg := queueConfig{
		queues:   []string{def.Opts.Queue},
		owner:    id.New(id.PrefixWorker).String(),
		leaseFor: 30 * time.Second,
		batch:    1,
		retry:    backoff.Default(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.batch < 1 {
		cfg.batch = 1
	}
	if cfg.hooks == nil {
		cfg.hooks = hook.NewRegistry(cfg.logger)
	}

	return &Queue[T]{
		store:    store,
		def:      def,
		cfg:      cfg,
		inflight: make(map[id.ID]id.ID),
	}
}

// Owner reports the lease owner this queue claims jobs under.
func (q *Queue[T]) Owner() string { return q.cfg.owner }

// Enqueue encodes payload under the queue's definition and persists it.
func (q *Queue[T]) Enqueue(ctx context.Context, payload T, opts ...job.Option) (*job.Job, error) {
	return job.Enqueue(ctx, q.store, q.def, payload, opts...)
}

// Poll returns the next deliverable job as a typed request, or (nil, nil)
// when the store has nothing ready. Records that cannot be decoded are
// killed in place and skipped.
func (q *Queue[T]) Poll(ctx context.Context) (*conveyor.Request[T], error) {
	for {
		j, err := q.next(ctx)
		if err != nil {
			return nil, err
		}
		if j == nil {
			return nil, nil
		}

		if j.Kind != q.def.Kind {
			q.poison(ctx, j, fmt.Sprintf("kind %q not handled by this source", j.Kind))
			continue
		}

		payload, decErr := q.def.Decode(j)
		if decErr != nil {
			q.poison(ctx, j, decErr.Error())
			continue
		}

		q.mu.Lock()
		q.inflight[j.ID] = j.LeaseID
		q.mu.Unlock()

		return &conveyor.Request[T]{
			ID:          j.ID,
			Payload:     payload,
			Attempt:     j.Attempt,
			MaxAttempts: j.MaxAttempts,
			EnqueuedAt:  j.CreatedAt,
		}, nil
	}
}

// next pops the claim buffer, refilling it from the store when empty.
func (q *Queue[T]) next(ctx context.Context) (*job.Job, error) {
	q.mu.Lock()
	if len(q.buf) > 0 {
		j := q.buf[0]
		q.buf = q.buf[1:]
		q.mu.Unlock()
		return j, nil
	}
	q.mu.Unlock()

	jobs, err := q.store.Dequeue(ctx, q.cfg.queues, q.cfg.owner, q.cfg.leaseFor, q.cfg.batch)
	if err != nil {
		return nil, fmt.Errorf("conveyor/source: dequeue: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	q.mu.Lock()
	q.buf = append(q.buf, jobs[1:]...)
	q.mu.Unlock()
	return jobs[0], nil
}

// poison kills an undeliverable record so it stops clogging the queue.
func (q *Queue[T]) poison(ctx context.Context, j *job.Job, reason string) {
	q.cfg.logger.Warn("killing undecodable job",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", j.Kind),
		slog.String("reason", reason),
	)
	if err := q.store.Kill(ctx, j.ID, j.LeaseID, reason); err != nil {
		q.cfg.logger.Error("kill undecodable job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	q.cfg.hooks.EmitJobDead(ctx, q.workerName(ctx), j.ID, reason)
}

// Ack settles a delivery after its handler ran: Complete on nil error,
// Fail otherwise. The result value is ignored; it exists for sources that
// forward handler output.
func (q *Queue[T]) Ack(ctx context.Context, req *conveyor.Request[T], _ any, handleErr error) error {
	if handleErr == nil {
		return q.Complete(ctx, req)
	}
	return q.Fail(ctx, req, handleErr)
}

// Complete settles the request's delivery as done.
func (q *Queue[T]) Complete(ctx context.Context, req *conveyor.Request[T]) error {
	leaseID, err := q.heldLease(req)
	if err != nil {
		return err
	}
	return q.settle(req, q.store.Complete(ctx, req.ID, leaseID))
}

// Fail settles the request's delivery as failed. The job is rescheduled
// after the configured backoff unless handleErr is Permanent or the attempt
// budget is spent, in which case it moves to dead.
func (q *Queue[T]) Fail(ctx context.Context, req *conveyor.Request[T], handleErr error) error {
	leaseID, err := q.heldLease(req)
	if err != nil {
		return err
	}

	if conveyor.IsPermanent(handleErr) || req.Attempt >= req.MaxAttempts {
		if err := q.settle(req, q.store.Kill(ctx, req.ID, leaseID, handleErr.Error())); err != nil {
			return err
		}
		q.cfg.hooks.EmitJobDead(ctx, q.workerName(ctx), req.ID, handleErr.Error())
		return nil
	}

	retryAt := backoff.At(q.cfg.retry, time.Now().UTC(), req.Attempt)
	if err := q.settle(req, q.store.Retry(ctx, req.ID, leaseID, retryAt, handleErr.Error())); err != nil {
		return err
	}
	q.cfg.hooks.EmitJobRetried(ctx, q.workerName(ctx), req.ID, req.Attempt, retryAt)
	return nil
}

// Extend pushes the request's lease expiry to now+d. Long handlers call it
// periodically so the reclaimer does not hand the job to another worker.
func (q *Queue[T]) Extend(ctx context.Context, req *conveyor.Request[T], d time.Duration) error {
	leaseID, err := q.heldLease(req)
	if err != nil {
		return err
	}
	return q.store.ExtendLease(ctx, req.ID, leaseID, time.Now().UTC().Add(d))
}

// heldLease returns the lease granted when req was polled.
func (q *Queue[T]) heldLease(req *conveyor.Request[T]) (id.ID, error) {
	q.mu.Lock()
	leaseID, ok := q.inflight[req.ID]
	q.mu.Unlock()
	if !ok {
		return id.Nil, fmt.Errorf("conveyor/source: no lease held for job %s: %w", req.ID, conveyor.ErrLeaseExpired)
	}
	return leaseID, nil
}

// settle forwards the store's verdict, dropping the lease record unless the
// store failed for a reason worth retrying the settlement itself.
func (q *Queue[T]) settle(req *conveyor.Request[T], storeErr error) error {
	if storeErr == nil || leaseGone(storeErr) {
		q.mu.Lock()
		delete(q.inflight, req.ID)
		q.mu.Unlock()
	}
	return storeErr
}

// workerName resolves the name reported to hooks: the worker the delivery
// runs under when the context carries one, otherwise the lease owner.
func (q *Queue[T]) workerName(ctx context.Context) string {
	if ref, ok := conveyor.RefFromContext(ctx); ok {
		return ref.Name()
	}
	return q.cfg.owner
}

// leaseGone reports whether a settlement failed because the delivery no
// longer belongs to us. Retrying such a settlement can never succeed.
func leaseGone(err error) bool {
	return errors.Is(err, conveyor.ErrLeaseExpired) || errors.Is(err, conveyor.ErrJobNotFound)
}

// Package dlq provides inspection, replay, and purging of dead jobs.
//
// A job moves to the dead state when its delivery attempts are exhausted,
// when a handler fails with a Permanent error, or when the reclaimer finds
// an expired lease with no attempts left. Dead jobs stay in the job store
// with their payload, last error, and attempt counts intact.
//
// # Service
//
// [Service] wraps a job.Store with high-level operations:
//
//	svc := dlq.NewService(store, dlq.WithRegistry(registry))
//
//	dead, _ := svc.List(ctx, job.ListOpts{Limit: 50})
//	replayed, _ := svc.Replay(ctx, dead[0].ID)
//	purged, _ := svc.Purge(ctx, "")
//
// # Replay
//
// Replaying resurrects a dead job as a fresh pending one: same kind, queue,
// payload, and budget, new ID, zero attempts, deliverable immediately. The
// dead record is removed so a job cannot be replayed twice.
package dlq

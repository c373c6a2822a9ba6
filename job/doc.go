// Package job defines the persisted job record, its state machine, typed
// kind definitions, and the store contract queue sources pull from.
//
// # Job Record
//
// A [Job] is one unit of work. It embeds [conveyor.Entity] for timestamps,
// carries an encoded payload, and moves through a state machine:
//
//	pending → active → done
//	pending → active → retry → active → ...
//	pending → active → dead
//	pending → canceled
//
// Delivery runs on leases rather than heartbeats: Dequeue grants the worker
// a lease (LeaseID, LeaseOwner, LeaseUntil), long handlers extend it, and a
// reclaimer returns jobs with expired leases to pending. Settlement calls
// carry the lease ID so a worker that lost its lease cannot clobber a
// redelivered job.
//
// Fields of note:
//   - Queue: which queue the job belongs to (default "default")
//   - Priority: higher values dequeue first
//   - Attempt / MaxAttempts: delivery budget; exhausting it moves the job to dead
//   - NotBefore: earliest time the job may be dequeued
//   - Timeout: per-delivery deadline (zero = unlimited)
//
// # Defining a Kind
//
// A [Definition] binds a kind name to a payload type and enqueue defaults.
// Producers enqueue through it; queue sources decode through it:
//
//	var SendEmail = job.NewDefinition[EmailInput]("send_email",
//	    job.WithMaxAttempts(5),
//	    job.WithQueue("mail"),
//	)
//
//	j, err := job.Enqueue(ctx, store, SendEmail, EmailInput{To: "a@example.com"})
//
// # Registry
//
// [Registry] maps kind names to type-erased decoders so components that
// handle records generically (the dead set replayer, the feed server) can
// decode payloads without knowing T. Register definitions at startup via
// [RegisterDefinition].
package job

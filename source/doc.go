// Package source provides ready-made Source implementations for built
// workers.
//
// Queue pulls persisted jobs from a job.Store, decodes them through a typed
// job.Definition, and settles deliveries back into the store. Chan bridges
// push-style producers into the pull contract. Package source/cron adds a
// schedule-driven source.
package source

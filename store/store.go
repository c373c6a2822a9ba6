// Package store defines the aggregate persistence interface. The job
// subsystem defines its own store contract; the composite Store adds
// lifecycle on top. Backends: Memory, Redis, Postgres, Bun, and Mongo.
package store

import (
	"context"

	"github.com/xraph/conveyor/job"
)

// Store is the aggregate persistence interface a backend implements.
type Store interface {
	job.Store

	// Migrate creates or upgrades backend schema. No-op where there is none.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the store's own resources. Backends built on a
	// caller-supplied client do not close that client.
	Close() error
}

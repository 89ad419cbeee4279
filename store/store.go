// Package store defines the aggregate persistence interface. Backends:
// Memory, Postgres and Redis.
package store

import (
	"context"

	"github.com/xraph/asyncexec/job"
)

// Store is the aggregate persistence interface every backend implements.
// The job collections and the instance lock table are the only state the
// executor shares between nodes.
type Store interface {
	job.Store

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

package redis

import (
	"context"
	"errors"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/asyncexec"
	"github.com/xraph/asyncexec/job"
	"github.com/xraph/asyncexec/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// Transact implements job.Store.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx job.Tx) error) error {
	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		t.done = true
		return err
	}
	t.done = true
	if err := t.commit(ctx); err != nil {
		if errors.Is(err, asyncexec.ErrOptimisticLock) {
			s.logger.Debug("redis commit conflict", slog.String("error", err.Error()))
		}
		return err
	}
	for _, f := range t.afterCommit {
		f(ctx)
	}
	return nil
}

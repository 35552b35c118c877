package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stream"
)

// Compile-time interface checks.
var (
	_ order.Store            = (*Store)(nil)
	_ inventory.Store        = (*Store)(nil)
	_ dlq.Store              = (*Store)(nil)
	_ stream.CheckpointStore = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
// WATCH-based transactions need a concrete client, so the constructor
// takes a UniversalClient rather than Cmdable.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu        sync.RWMutex
	changeLog stream.Appender
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// SetChangeLog wires the change log that receives events after accepted
// order writes.
func (s *Store) SetChangeLog(appender stream.Appender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changeLog = appender
}

func (s *Store) appender() stream.Appender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changeLog
}

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

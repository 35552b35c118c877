// Package store defines the aggregate persistence interface. Each subsystem
// (order, inventory, dlq, stream checkpoints) defines its own store
// interface. The composite Store composes them all. Backends: Bun
// (Postgres), Redis, and Memory.
package store

import (
	"context"

	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stream"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (bun, redis, memory) implements all of them.
type Store interface {
	order.Store
	inventory.Store
	dlq.Store
	stream.CheckpointStore

	// SetChangeLog wires the change log that receives a ChangeEvent after
	// every accepted order write. Must be called before the first write;
	// the engine does this during assembly.
	SetChangeLog(appender stream.Appender)

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

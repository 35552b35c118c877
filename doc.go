// Package orderflow provides a durable orchestration core for multi-step
// order fulfillment. It consumes an ordered, at-least-once change stream of
// order mutations and drives each order through a fixed pipeline of stages
// (validation, inventory reservation, payment capture, fulfillment, and
// customer notification), coordinating entirely through conditional writes
// on a durable order store.
//
// Orderflow is designed as a library, not a service. Import it, configure a
// store, plug in payment and notification capabilities, and start the engine.
//
// # Quick Start
//
//	c, err := orderflow.New(
//	    orderflow.WithStore(memStore),
//	    orderflow.WithConcurrency(8),
//	)
//
// # Architecture
//
// Orderflow follows a composable store pattern where each subsystem (order,
// inventory, dlq, stream checkpoints) defines its own store interface. A
// single backend implements all of them.
//
// Concurrency safety comes from optimistic versioning, never from locks:
// every order mutation is a compare-and-swap on the record's version, and
// duplicate or out-of-order event deliveries resolve to no-ops.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers with compile-time safety.
package orderflow

package stream

import (
	"context"
	"time"
)

// Appender is the write side of the change log. Order stores publish a
// ChangeEvent through an Appender after every accepted mutation.
type Appender interface {
	// Append adds an event to the partition derived from its order ID.
	Append(ctx context.Context, evt *ChangeEvent) error
}

// Log is the full change log contract consumed by the processor pool.
//
// Delivery is at least once: an event pulled but never acked is
// redelivered. Within a partition at most one event is in flight at a
// time, which preserves per-order ordering; separate partitions
// interleave freely.
type Log interface {
	Appender

	// Partitions returns the number of partitions in the log.
	Partitions() int

	// Pull returns the next due event from the partition, or nil when the
	// partition is empty, not yet due, or has an event in flight.
	Pull(ctx context.Context, partition int) (*ChangeEvent, error)

	// Ack marks the event as processed and advances the partition's
	// persisted checkpoint.
	Ack(ctx context.Context, evt *ChangeEvent) error

	// Nack returns the event to the head of its partition for redelivery
	// after the given delay, incrementing its attempt count. A zero delay
	// redelivers immediately.
	Nack(ctx context.Context, evt *ChangeEvent, delay time.Duration) error
}

// CheckpointStore persists per-partition consumption checkpoints so a log
// survives restart without replaying from the beginning of history.
type CheckpointStore interface {
	// SaveStreamCheckpoint records the last acked sequence token for a
	// partition.
	SaveStreamCheckpoint(ctx context.Context, partition int, token string) error

	// GetStreamCheckpoint returns the last saved token for a partition,
	// or "" when none has been saved.
	GetStreamCheckpoint(ctx context.Context, partition int) (string, error)
}

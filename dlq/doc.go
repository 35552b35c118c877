// Package dlq provides the dead letter queue for change events that could
// not be processed. It supports inspection, replay, and purging.
//
// Two kinds of events land here. Poison events are redelivered more times
// than the delivery bound allows without ever being acknowledged; parking
// them unblocks the partition they were wedging. Orphan events reference
// an order that no longer exists, so no amount of redelivery can help.
// Either way the original event, the final error, and the delivery count
// are preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - EventID / OrderID / Partition: original event identity
//   - Event: the raw JSON event at time of parking
//   - Error: the final error message
//   - Attempts: deliveries consumed before parking
//   - DeadLetteredAt: when the event was parked
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, log)
//
//	// Push is called by the orchestrator when an event is parked.
//	svc.Push(ctx, evt, partition, cause)
//
//	// Replay re-appends the original event to the change log.
//	svc.Replay(ctx, entryID)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
package dlq

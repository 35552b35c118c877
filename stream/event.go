// Package stream provides the ordered, partitioned change log that feeds
// the orchestrator. Events are delivered at least once; ordering is
// guaranteed only within a partition, and events for the same order always
// hash to the same partition.
package stream

import (
	"hash/fnv"
	"time"

	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/order"
)

// ChangeEvent records one accepted mutation of an order. Version is the
// order's version after the mutation, so a handler that finds the stored
// version above it knows the event is stale.
type ChangeEvent struct {
	ID            id.EventID   `json:"id"`
	OrderID       id.OrderID   `json:"order_id"`
	Version       int64        `json:"version"`
	StatusBefore  order.Status `json:"status_before"`
	StatusAfter   order.Status `json:"status_after"`
	Timestamp     time.Time    `json:"ts"`
	SequenceToken string       `json:"sequence_token,omitempty"`

	// Attempt counts deliveries of this event, maintained by the log on
	// redelivery. Used to bound poison events.
	Attempt int `json:"attempt,omitempty"`
}

// NewChangeEvent builds the event for a transition that was just written.
func NewChangeEvent(o *order.Order, before order.Status) *ChangeEvent {
	return &ChangeEvent{
		ID:           id.NewEventID(),
		OrderID:      o.ID,
		Version:      o.Version,
		StatusBefore: before,
		StatusAfter:  o.Status,
		Timestamp:    time.Now().UTC(),
	}
}

// PartitionFor maps an order ID to a partition index. Stable, so all
// events for one order land on the same partition.
func PartitionFor(orderID id.OrderID, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(orderID.String())) //nolint:errcheck // fnv never errors
	return int(h.Sum32() % uint32(partitions))
}

package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/store/memory"
	"github.com/tidemark/orderflow/stream"
)

func newTestEvent() *stream.ChangeEvent {
	return &stream.ChangeEvent{
		ID:           id.NewEventID(),
		OrderID:      id.NewOrderID(),
		Version:      4,
		StatusBefore: order.StatusInventoryReserved,
		StatusAfter:  order.StatusProcessingPayment,
		Timestamp:    time.Now().UTC(),
		Attempt:      11,
	}
}

func TestService_Push_BuildsEntryFromEvent(t *testing.T) {
	s := memory.New()
	log := stream.NewMemoryLog(4)
	svc := dlq.NewService(s, log)
	ctx := context.Background()

	evt := newTestEvent()
	cause := errors.New("delivery bound exceeded")

	entry, err := svc.Push(ctx, evt, 3, cause)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	if entry.EventID != evt.ID {
		t.Errorf("EventID = %v, want %v", entry.EventID, evt.ID)
	}
	if entry.OrderID != evt.OrderID {
		t.Errorf("OrderID = %v, want %v", entry.OrderID, evt.OrderID)
	}
	if entry.Partition != 3 {
		t.Errorf("Partition = %d, want 3", entry.Partition)
	}
	if entry.Error != "delivery bound exceeded" {
		t.Errorf("Error = %q", entry.Error)
	}
	if entry.Attempts != 11 {
		t.Errorf("Attempts = %d, want 11", entry.Attempts)
	}
	if entry.DeadLetteredAt.IsZero() {
		t.Error("expected DeadLetteredAt to be set")
	}
	if len(entry.Event) == 0 {
		t.Error("expected the raw event to be preserved")
	}

	// Verify entry reached the store.
	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.EventID != evt.ID {
		t.Errorf("stored EventID = %v", got.EventID)
	}
}

func TestService_Replay_ReappendsWithFreshIdentity(t *testing.T) {
	s := memory.New()
	log := stream.NewMemoryLog(4)
	svc := dlq.NewService(s, log)
	ctx := context.Background()

	evt := newTestEvent()
	entry, err := svc.Push(ctx, evt, 1, errors.New("order not found"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == evt.ID {
		t.Error("replayed event reused the parked event's ID")
	}
	if replayed.Attempt != 0 {
		t.Errorf("replayed Attempt = %d, want 0", replayed.Attempt)
	}
	if replayed.OrderID != evt.OrderID || replayed.Version != evt.Version {
		t.Errorf("replayed event = %+v, want original order/version", replayed)
	}

	// The event is back in the log on the order's partition.
	part := stream.PartitionFor(evt.OrderID, log.Partitions())
	pulled, err := log.Pull(ctx, part)
	if err != nil || pulled == nil {
		t.Fatalf("Pull: %v %v", pulled, err)
	}
	if pulled.ID != replayed.ID {
		t.Errorf("pulled %v, want replayed event", pulled.ID)
	}

	// The entry is marked replayed.
	got, _ := s.GetDLQ(ctx, entry.ID)
	if got.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set")
	}
}

func TestService_Replay_MissingEntry(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, stream.NewMemoryLog(4))

	if _, err := svc.Replay(context.Background(), id.NewDLQID()); err == nil {
		t.Fatal("expected error for unknown entry")
	}
}

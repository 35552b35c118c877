package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stream"
)

func newEvent(orderID id.OrderID, version int64) *stream.ChangeEvent {
	return &stream.ChangeEvent{
		ID:           id.NewEventID(),
		OrderID:      orderID,
		Version:      version,
		StatusBefore: order.StatusCreated,
		StatusAfter:  order.StatusValidating,
		Timestamp:    time.Now().UTC(),
	}
}

func TestPartitionFor_Stable(t *testing.T) {
	oid := id.NewOrderID()
	first := stream.PartitionFor(oid, 16)
	for range 10 {
		if got := stream.PartitionFor(oid, 16); got != first {
			t.Fatalf("PartitionFor not stable: %d then %d", first, got)
		}
	}
	if first < 0 || first >= 16 {
		t.Errorf("PartitionFor = %d, out of range", first)
	}
}

func TestMemoryLog_AppendPullAck(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(1)
	oid := id.NewOrderID()

	evt := newEvent(oid, 2)
	if err := log.Append(ctx, evt); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := log.Pull(ctx, 0)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if got == nil {
		t.Fatal("Pull returned nil, want event")
	}
	if got.ID != evt.ID {
		t.Errorf("Pull returned %s, want %s", got.ID, evt.ID)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}

	if err := log.Ack(ctx, got); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if log.Depth() != 0 {
		t.Errorf("Depth after ack = %d, want 0", log.Depth())
	}
}

func TestMemoryLog_SingleInFlightPerPartition(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(1)
	oid := id.NewOrderID()

	if err := log.Append(ctx, newEvent(oid, 2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(ctx, newEvent(oid, 3)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	first, err := log.Pull(ctx, 0)
	if err != nil || first == nil {
		t.Fatalf("first Pull = %v, %v", first, err)
	}

	// Second event must not be delivered while the first is in flight.
	second, err := log.Pull(ctx, 0)
	if err != nil {
		t.Fatalf("second Pull: %v", err)
	}
	if second != nil {
		t.Fatalf("second Pull delivered %s while first in flight", second.ID)
	}

	if err := log.Ack(ctx, first); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	second, err = log.Pull(ctx, 0)
	if err != nil || second == nil {
		t.Fatalf("Pull after ack = %v, %v", second, err)
	}
	if second.Version != 3 {
		t.Errorf("second.Version = %d, want 3 (partition order)", second.Version)
	}
}

func TestMemoryLog_NackRedeliversAfterDelay(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(1)

	evt := newEvent(id.NewOrderID(), 2)
	if err := log.Append(ctx, evt); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, _ := log.Pull(ctx, 0)
	if got == nil {
		t.Fatal("Pull returned nil")
	}
	if err := log.Nack(ctx, got, 30*time.Millisecond); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	// Not yet due.
	if early, _ := log.Pull(ctx, 0); early != nil {
		t.Fatal("Pull delivered nacked event before its delay elapsed")
	}

	time.Sleep(40 * time.Millisecond)
	redelivered, _ := log.Pull(ctx, 0)
	if redelivered == nil {
		t.Fatal("Pull did not redeliver after delay")
	}
	if redelivered.ID != evt.ID {
		t.Errorf("redelivered %s, want %s", redelivered.ID, evt.ID)
	}
	if redelivered.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", redelivered.Attempt)
	}
}

func TestMemoryLog_SameOrderSamePartition(t *testing.T) {
	ctx := context.Background()
	log := stream.NewMemoryLog(8)
	oid := id.NewOrderID()
	part := stream.PartitionFor(oid, 8)

	for v := int64(2); v <= 4; v++ {
		if err := log.Append(ctx, newEvent(oid, v)); err != nil {
			t.Fatalf("Append v%d: %v", v, err)
		}
	}

	// All three events are on the order's partition, in version order.
	for v := int64(2); v <= 4; v++ {
		got, err := log.Pull(ctx, part)
		if err != nil || got == nil {
			t.Fatalf("Pull v%d = %v, %v", v, got, err)
		}
		if got.Version != v {
			t.Errorf("Version = %d, want %d", got.Version, v)
		}
		if err := log.Ack(ctx, got); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	}
}

type fakeCkpt struct {
	saved map[int]string
}

func (f *fakeCkpt) SaveStreamCheckpoint(_ context.Context, p int, tok string) error {
	f.saved[p] = tok
	return nil
}

func (f *fakeCkpt) GetStreamCheckpoint(_ context.Context, p int) (string, error) {
	return f.saved[p], nil
}

func TestMemoryLog_CheckpointSavedOnAck(t *testing.T) {
	ctx := context.Background()
	cs := &fakeCkpt{saved: make(map[int]string)}
	log := stream.NewMemoryLog(1, stream.WithCheckpointStore(cs))

	evt := newEvent(id.NewOrderID(), 2)
	if err := log.Append(ctx, evt); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, _ := log.Pull(ctx, 0)
	if err := log.Ack(ctx, got); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	tok, err := cs.GetStreamCheckpoint(ctx, 0)
	if err != nil {
		t.Fatalf("GetStreamCheckpoint: %v", err)
	}
	if tok != evt.SequenceToken {
		t.Errorf("checkpoint = %q, want %q", tok, evt.SequenceToken)
	}
}

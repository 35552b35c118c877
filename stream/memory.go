package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLog is an in-process partitioned change log. Safe for concurrent
// use. Intended for unit testing and development; production deployments
// point the stores at a real partitioned log instead.
type MemoryLog struct {
	mu         sync.Mutex
	partitions []*partition
	ckpt       CheckpointStore
	closed     bool
}

// partition holds pending deliveries in order. At most one event is in
// flight per partition at a time.
type partition struct {
	entries  []*pending
	inflight *ChangeEvent
	seq      uint64
}

type pending struct {
	evt   *ChangeEvent
	dueAt time.Time
}

// MemoryLogOption configures a MemoryLog.
type MemoryLogOption func(*MemoryLog)

// WithCheckpointStore persists per-partition checkpoints through the given
// store on every Ack.
func WithCheckpointStore(cs CheckpointStore) MemoryLogOption {
	return func(l *MemoryLog) { l.ckpt = cs }
}

// NewMemoryLog creates a log with the given partition count.
func NewMemoryLog(partitions int, opts ...MemoryLogOption) *MemoryLog {
	if partitions < 1 {
		partitions = 1
	}
	l := &MemoryLog{partitions: make([]*partition, partitions)}
	for i := range l.partitions {
		l.partitions[i] = &partition{}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Partitions returns the partition count.
func (l *MemoryLog) Partitions() int { return len(l.partitions) }

// Append adds an event to the partition derived from its order ID and
// assigns its sequence token.
func (l *MemoryLog) Append(_ context.Context, evt *ChangeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.partitions[PartitionFor(evt.OrderID, len(l.partitions))]
	p.seq++
	evt.SequenceToken = fmt.Sprintf("%020d", p.seq)
	p.entries = append(p.entries, &pending{evt: evt, dueAt: time.Now()})
	return nil
}

// Pull returns the next due event from the partition, or nil.
func (l *MemoryLog) Pull(_ context.Context, part int) (*ChangeEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if part < 0 || part >= len(l.partitions) {
		return nil, fmt.Errorf("stream: partition %d out of range", part)
	}
	p := l.partitions[part]

	if p.inflight != nil || len(p.entries) == 0 {
		return nil, nil
	}
	head := p.entries[0]
	if head.dueAt.After(time.Now()) {
		return nil, nil
	}

	p.entries = p.entries[1:]
	head.evt.Attempt++
	p.inflight = head.evt
	return head.evt, nil
}

// Ack clears the in-flight event and advances the partition checkpoint.
func (l *MemoryLog) Ack(ctx context.Context, evt *ChangeEvent) error {
	l.mu.Lock()
	part := PartitionFor(evt.OrderID, len(l.partitions))
	p := l.partitions[part]
	if p.inflight != nil && p.inflight.ID == evt.ID {
		p.inflight = nil
	}
	ckpt := l.ckpt
	l.mu.Unlock()

	if ckpt != nil {
		return ckpt.SaveStreamCheckpoint(ctx, part, evt.SequenceToken)
	}
	return nil
}

// Nack returns the event to the head of its partition, due after delay.
func (l *MemoryLog) Nack(_ context.Context, evt *ChangeEvent, delay time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.partitions[PartitionFor(evt.OrderID, len(l.partitions))]
	if p.inflight != nil && p.inflight.ID == evt.ID {
		p.inflight = nil
	}
	entry := &pending{evt: evt, dueAt: time.Now().Add(delay)}
	p.entries = append([]*pending{entry}, p.entries...)
	return nil
}

// Depth returns the number of pending events across all partitions,
// excluding in-flight deliveries. Useful for drain checks in tests.
func (l *MemoryLog) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, p := range l.partitions {
		n += len(p.entries)
		if p.inflight != nil {
			n++
		}
	}
	return n
}

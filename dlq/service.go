package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/stream"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	appender stream.Appender
}

// NewService creates a DLQ service. The appender is the change log the
// service re-appends to on replay.
func NewService(store Store, appender stream.Appender) *Service {
	return &Service{store: store, appender: appender}
}

// Push builds a DLQ Entry from a parked event, persists it, and returns
// it. The error string is captured from the final processing error.
func (s *Service) Push(ctx context.Context, evt *stream.ChangeEvent, partition int, cause error) (*Entry, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("dlq: marshal event %s: %w", evt.ID, err)
	}

	now := time.Now().UTC()
	entry := &Entry{
		ID:             id.NewDLQID(),
		EventID:        evt.ID,
		OrderID:        evt.OrderID,
		Partition:      partition,
		Event:          raw,
		Error:          cause.Error(),
		Attempts:       evt.Attempt,
		DeadLetteredAt: now,
		CreatedAt:      now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}

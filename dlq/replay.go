package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/stream"
)

// Replay re-appends a DLQ entry's event to the change log and marks the
// entry as replayed. The event gets a fresh ID and a zero delivery count
// so it is not immediately re-parked by the delivery bound.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*stream.ChangeEvent, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var evt stream.ChangeEvent
	if err := json.Unmarshal(entry.Event, &evt); err != nil {
		return nil, fmt.Errorf("dlq: unmarshal entry %s: %w", entryID, err)
	}

	evt.ID = id.NewEventID()
	evt.Attempt = 0
	evt.SequenceToken = ""

	if err := s.appender.Append(ctx, &evt); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The event is already appended. Surface the event anyway.
		return &evt, err
	}

	return &evt, nil
}

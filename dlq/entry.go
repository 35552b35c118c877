package dlq

import (
	"time"

	"github.com/tidemark/orderflow/id"
)

// Entry represents a change event that was parked instead of processed,
// preserved in the dead letter queue for inspection or replay.
type Entry struct {
	ID             id.DLQID   `json:"id"`
	EventID        id.EventID `json:"event_id"`
	OrderID        id.OrderID `json:"order_id"`
	Partition      int        `json:"partition"`
	Event          []byte     `json:"event"`
	Error          string     `json:"error"`
	Attempts       int        `json:"attempts"`
	DeadLetteredAt time.Time  `json:"dead_lettered_at"`
	ReplayedAt     *time.Time `json:"replayed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

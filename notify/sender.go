// Package notify defines the customer notification capability consumed by
// the notifier stage, plus an in-memory fake. Notification is best-effort:
// delivery failure never blocks order completion.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tidemark/orderflow/id"
)

// Message is one customer notification.
type Message struct {
	OrderID id.OrderID
	Email   string
	Subject string
	Body    string
}

// Sender is the notification delivery capability. Send returns the
// provider's message identifier on success.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Fake is an in-memory Sender with scriptable failures. Safe for
// concurrent use.
type Fake struct {
	mu       sync.Mutex
	sent     []Message
	failures map[string]int // order id → remaining failures; -1 fails forever
}

// NewFake creates an empty fake sender.
func NewFake() *Fake {
	return &Fake{failures: make(map[string]int)}
}

// FailTimes scripts n delivery failures for the order before the next
// attempt succeeds. Pass a negative n to fail every attempt.
func (f *Fake) FailTimes(orderID id.OrderID, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[orderID.String()] = n
}

// Send implements Sender.
func (f *Fake) Send(_ context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := msg.OrderID.String()
	if n := f.failures[key]; n != 0 {
		if n > 0 {
			f.failures[key] = n - 1
		}
		return "", fmt.Errorf("notify: delivery failed for order %s", key)
	}

	f.sent = append(f.sent, msg)
	return "msg-" + uuid.NewString(), nil
}

// Sent returns a copy of all delivered messages.
func (f *Fake) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

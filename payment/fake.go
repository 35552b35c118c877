package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tidemark/orderflow/id"
)

// Fake is an in-memory Capturer that records charges keyed by idempotency
// key. Failures can be scripted per order to exercise retry and
// compensation paths. Safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	charges  map[string]*Receipt // idempotency key → receipt
	refunded map[string]bool     // order id → refunded
	failures map[string]int      // order id → remaining transient failures
	declined map[string]bool     // order id → always decline
}

// NewFake creates an empty fake capturer.
func NewFake() *Fake {
	return &Fake{
		charges:  make(map[string]*Receipt),
		refunded: make(map[string]bool),
		failures: make(map[string]int),
		declined: make(map[string]bool),
	}
}

// FailTimes scripts n transient capture failures for the order before the
// next attempt succeeds.
func (f *Fake) FailTimes(orderID id.OrderID, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[orderID.String()] = n
}

// Decline scripts a permanent decline for the order.
func (f *Fake) Decline(orderID id.OrderID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined[orderID.String()] = true
}

// Capture implements Capturer. Repeated captures with the same
// idempotency key return the original receipt without recording a second
// charge.
func (f *Fake) Capture(_ context.Context, req CaptureRequest) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.charges[req.IdempotencyKey]; ok {
		return r, nil
	}

	key := req.OrderID.String()
	if f.declined[key] {
		return nil, ErrDeclined
	}
	if f.failures[key] > 0 {
		f.failures[key]--
		return nil, fmt.Errorf("payment: processor unavailable for order %s", key)
	}

	r := &Receipt{
		ChargeID: id.NewChargeID(),
		Ref:      "TX-" + uuid.NewString(),
		Amount:   req.Amount,
	}
	f.charges[req.IdempotencyKey] = r
	return r, nil
}

// Refund implements Capturer. No-op when the order has no charge or was
// already refunded.
func (f *Fake) Refund(_ context.Context, orderID id.OrderID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := orderID.String()
	if f.refunded[key] {
		return nil
	}
	if _, ok := f.charges[key]; !ok {
		return nil
	}
	f.refunded[key] = true
	return nil
}

// ChargeCount returns the number of distinct charges recorded. Retried
// captures with the same idempotency key count once.
func (f *Fake) ChargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

// ChargeFor returns the recorded receipt for an order, or nil.
func (f *Fake) ChargeFor(orderID id.OrderID) *Receipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.charges[orderID.String()]
}

// Refunded reports whether the order's charge has been refunded.
func (f *Fake) Refunded(orderID id.OrderID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunded[orderID.String()]
}

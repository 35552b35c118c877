// Package payment defines the capture capability consumed by the payment
// stage, plus an in-memory fake for composition in tests and development.
// Real processor integrations implement Capturer; the orchestration core
// never special-cases fake versus real.
package payment

import (
	"context"
	"errors"

	"github.com/tidemark/orderflow/id"
)

// ErrDeclined is returned when the processor permanently refuses the
// charge. Any other capture error is treated as transient by the caller.
var ErrDeclined = errors.New("payment: declined by processor")

// CaptureRequest describes one charge. IdempotencyKey is derived from the
// order ID so a retried capture never double-charges.
type CaptureRequest struct {
	OrderID        id.OrderID
	Amount         float64
	Method         string
	IdempotencyKey string
}

// Receipt is the processor's record of a successful capture. Ref is the
// opaque processor reference stored on the order.
type Receipt struct {
	ChargeID id.ChargeID
	Ref      string
	Amount   float64
}

// Capturer is the payment capture capability.
type Capturer interface {
	// Capture charges the amount. Requests repeating an idempotency key
	// return the original receipt without charging again.
	Capture(ctx context.Context, req CaptureRequest) (*Receipt, error)

	// Refund reverses a captured charge for the order. Idempotent; a
	// refund for an uncharged or already-refunded order is a no-op.
	Refund(ctx context.Context, orderID id.OrderID) error
}

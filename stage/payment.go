package stage

import (
	"context"
	"errors"

	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/payment"
)

// PaymentWorker captures the order total. The idempotency key is the
// order ID, so a retried capture after a lost acknowledgement returns
// the original receipt instead of charging again.
type PaymentWorker struct {
	capturer payment.Capturer
}

// NewPaymentWorker creates the payment stage worker.
func NewPaymentWorker(capturer payment.Capturer) *PaymentWorker {
	return &PaymentWorker{capturer: capturer}
}

// Name implements Worker.
func (w *PaymentWorker) Name() string { return CapturePayment }

// Execute implements Worker.
func (w *PaymentWorker) Execute(ctx context.Context, o *order.Order) Result {
	// Recompute from the items rather than trusting the stored total;
	// the items are the source of truth for the charge amount.
	amount := o.CalculateTotal()
	o.Total = amount

	receipt, err := w.capturer.Capture(ctx, payment.CaptureRequest{
		OrderID:        o.ID,
		Amount:         amount,
		Method:         o.Payment.Method,
		IdempotencyKey: o.ID.String(),
	})
	if err != nil {
		if errors.Is(err, payment.ErrDeclined) {
			o.Payment.State = order.PaymentFailed
			return Permanent("payment declined")
		}
		return Transient(err)
	}

	o.Payment.ProcessorRef = receipt.Ref
	o.Payment.State = order.PaymentCaptured
	o.Payment.Amount = receipt.Amount

	return OK("payment captured", receipt.Ref)
}

package stage

import (
	"context"
	"fmt"

	"github.com/tidemark/orderflow/notify"
	"github.com/tidemark/orderflow/order"
)

// NotifierWorker sends the order confirmation to the customer. Every
// delivery error is transient; the orchestrator's relaxed policy for this
// stage completes the order anyway once attempts are exhausted, flagging
// it with NotificationFailed instead of failing it.
type NotifierWorker struct {
	sender notify.Sender
}

// NewNotifierWorker creates the notification stage worker.
func NewNotifierWorker(sender notify.Sender) *NotifierWorker {
	return &NotifierWorker{sender: sender}
}

// Name implements Worker.
func (w *NotifierWorker) Name() string { return Notify }

// Execute implements Worker.
func (w *NotifierWorker) Execute(ctx context.Context, o *order.Order) Result {
	msgID, err := w.sender.Send(ctx, notify.Message{
		OrderID: o.ID,
		Email:   o.Customer.Email,
		Subject: fmt.Sprintf("Order %s confirmed", o.ID),
		Body:    fmt.Sprintf("Your order of %d item(s) totaling %.2f has shipped.", len(o.Items), o.Total),
	})
	if err != nil {
		return Transient(err)
	}

	return OK("notification sent", msgID)
}

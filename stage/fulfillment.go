package stage

import (
	"context"

	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
)

// FulfillmentWorker converts the order's inventory holds into consumed
// stock and records a shipment. Consumption is idempotent at the store,
// and the shipment ID is reused across attempts, so a redelivered event
// never produces a second shipment.
type FulfillmentWorker struct {
	store inventory.Store
}

// NewFulfillmentWorker creates the fulfillment stage worker.
func NewFulfillmentWorker(store inventory.Store) *FulfillmentWorker {
	return &FulfillmentWorker{store: store}
}

// Name implements Worker.
func (w *FulfillmentWorker) Name() string { return Fulfill }

// Execute implements Worker.
func (w *FulfillmentWorker) Execute(ctx context.Context, o *order.Order) Result {
	if err := w.store.ConsumeForOrder(ctx, o.ID); err != nil {
		return Transient(err)
	}

	// Keep the shipment ID from a prior attempt if one was already minted.
	if o.ShipmentID.IsNil() {
		o.ShipmentID = id.NewShipmentID()
	}

	return OK("shipment created", o.ShipmentID.String())
}

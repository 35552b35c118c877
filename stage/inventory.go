package stage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
)

// DefaultHoldTTL is how long an inventory hold lives before it may be
// reaped, bounding leaked reservations from orders that never settle.
const DefaultHoldTTL = 30 * time.Minute

// InventoryWorker reserves stock for every order item atomically — all
// items or none. Insufficient stock is permanent; store contention is
// transient. The store's idempotent reserve means a retried attempt picks
// up the holds it already made instead of double-reserving.
type InventoryWorker struct {
	store   inventory.Store
	holdTTL time.Duration
}

// NewInventoryWorker creates the inventory stage worker.
func NewInventoryWorker(store inventory.Store) *InventoryWorker {
	return &InventoryWorker{store: store, holdTTL: DefaultHoldTTL}
}

// Name implements Worker.
func (w *InventoryWorker) Name() string { return ReserveInventory }

// Execute implements Worker.
func (w *InventoryWorker) Execute(ctx context.Context, o *order.Order) Result {
	expiry := time.Now().Add(w.holdTTL)

	reservations, err := w.store.ReserveStock(ctx, o.ID, o.Items, expiry)
	if err != nil {
		if errors.Is(err, orderflow.ErrInsufficientStock) {
			return Permanent("insufficient stock")
		}
		return Transient(err)
	}

	o.Reservations = o.Reservations[:0]
	tokens := make([]string, 0, len(reservations))
	for _, r := range reservations {
		o.Reservations = append(o.Reservations, r.ID)
		tokens = append(tokens, r.ID.String())
	}

	return OK("all items reserved", strings.Join(tokens, ","))
}

// Package inventory defines inventory stock, per-order reservations, and
// the persistence contract for atomic reserve/release/consume operations.
package inventory

import (
	"time"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/id"
)

// ReservationState tracks the lifecycle of an inventory hold.
type ReservationState string

const (
	// ReservationHeld means the quantity is held against available stock.
	ReservationHeld ReservationState = "HELD"
	// ReservationReleased means the hold was returned to available stock.
	ReservationReleased ReservationState = "RELEASED"
	// ReservationConsumed means the hold was converted by fulfillment and
	// is terminal for inventory accounting.
	ReservationConsumed ReservationState = "CONSUMED"
)

// Reservation ties a quantity hold on one product to an order. The sum of
// HELD reservations for a product never exceeds the product's stock.
type Reservation struct {
	orderflow.Entity

	ID        id.ReservationID `json:"id"`
	OrderID   id.OrderID       `json:"order_id"`
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	State     ReservationState `json:"state"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Product is a stock record. Available is the unreserved quantity; holds
// decrement it and releases return it.
type Product struct {
	orderflow.Entity

	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	UnitPrice float64 `json:"unit_price,omitempty"`
	Available int     `json:"available"`
}

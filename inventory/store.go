package inventory

import (
	"context"
	"time"

	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/order"
)

// Store defines the persistence contract for stock and reservations.
// Stock mutations are conditional decrements/increments on the durable
// store; callers never coordinate through in-process shared state.
type Store interface {
	// PutProduct creates or replaces a stock record.
	PutProduct(ctx context.Context, p *Product) error

	// GetProduct retrieves a stock record, or orderflow.ErrProductNotFound.
	GetProduct(ctx context.Context, productID string) (*Product, error)

	// ReserveStock atomically holds the quantities for every item, or none
	// of them. Fails with orderflow.ErrInsufficientStock when any product
	// lacks stock; no partial hold survives a failed call. Calling again
	// for an order that already holds reservations returns the existing
	// holds, so retried stage attempts do not double-reserve.
	ReserveStock(ctx context.Context, orderID id.OrderID, items []order.Item, expiry time.Time) ([]*Reservation, error)

	// ReleaseForOrder returns every HELD reservation for the order to
	// available stock. Idempotent: released and consumed holds are
	// skipped, so compensation can retry safely.
	ReleaseForOrder(ctx context.Context, orderID id.OrderID) error

	// ConsumeForOrder marks every HELD reservation for the order as
	// consumed. Terminal for inventory accounting; idempotent.
	ConsumeForOrder(ctx context.Context, orderID id.OrderID) error

	// ListReservations returns all reservations attached to an order.
	ListReservations(ctx context.Context, orderID id.OrderID) ([]*Reservation, error)

	// ReleaseExpiredHolds returns every HELD reservation whose expiry has
	// passed to available stock. Returns the number of holds released.
	// Called by the janitor to clean up holds abandoned mid-pipeline.
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error)
}

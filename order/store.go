package order

import (
	"context"

	"github.com/tidemark/orderflow/id"
)

// ListOpts controls pagination and filtering for order list queries.
type ListOpts struct {
	// Limit is the maximum number of orders to return. Zero means no limit.
	Limit int
	// Offset is the number of orders to skip.
	Offset int
	// Status filters by order status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for orders. All mutations are
// optimistic: PutIfVersion succeeds only when the stored record still has
// the expected version, so concurrent handlers resolve by re-reading
// rather than locking.
type Store interface {
	// CreateOrder persists a new order record. The write is rejected with
	// orderflow.ErrOrderAlreadyExists when the ID is already present.
	CreateOrder(ctx context.Context, o *Order) error

	// GetOrder retrieves an order by ID, or orderflow.ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID id.OrderID) (*Order, error)

	// PutOrderIfVersion writes o only if the stored record's version
	// equals expectedVersion. o.Version must already be the incremented
	// value. Fails with orderflow.ErrVersionConflict when the compare
	// fails, in which case the caller re-reads and re-decides.
	PutOrderIfVersion(ctx context.Context, o *Order, expectedVersion int64) error

	// ListOrders returns orders matching the given options, newest first.
	ListOrders(ctx context.Context, opts ListOpts) ([]*Order, error)
}

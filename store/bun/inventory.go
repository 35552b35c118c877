package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/uptrace/bun"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
)

// PutProduct creates or replaces a stock record.
func (s *Store) PutProduct(ctx context.Context, p *inventory.Product) error {
	m := toProductModel(p)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (product_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("unit_price = EXCLUDED.unit_price").
		Set("available = EXCLUDED.available").
		Set("updated_at = NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("orderflow/bun: put product: %w", err)
	}
	return nil
}

// GetProduct retrieves a stock record.
func (s *Store) GetProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	m := new(productModel)
	err := s.db.NewSelect().Model(m).
		Where("product_id = ?", productID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, orderflow.ErrProductNotFound
		}
		return nil, fmt.Errorf("orderflow/bun: get product: %w", err)
	}
	return fromProductModel(m), nil
}

// ReserveStock atomically holds the quantities for every item, or none.
// Product rows are locked FOR UPDATE in a stable order, the availability
// check covers every item before any decrement, and the whole hold is one
// transaction. Calling again for an order that already holds reservations
// returns the existing holds.
func (s *Store) ReserveStock(ctx context.Context, orderID id.OrderID, items []order.Item, expiry time.Time) ([]*inventory.Reservation, error) {
	// Lock rows in product ID order regardless of how the caller sorted
	// the items, so two overlapping reservations cannot deadlock.
	items = append([]order.Item(nil), items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	var out []*inventory.Reservation

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		out = nil

		// Idempotency: existing HELD reservations satisfy the call.
		var heldModels []reservationModel
		err := tx.NewSelect().Model(&heldModels).
			Where("order_id = ?", orderID.String()).
			Where("state = ?", string(inventory.ReservationHeld)).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("orderflow/bun: reserve read holds: %w", err)
		}
		if len(heldModels) > 0 {
			for i := range heldModels {
				rsv, convErr := fromReservationModel(&heldModels[i])
				if convErr != nil {
					return convErr
				}
				out = append(out, rsv)
			}
			return nil
		}

		// Lock and check every product before decrementing any.
		for _, it := range items {
			p := new(productModel)
			err := tx.NewSelect().Model(p).
				Where("product_id = ?", it.ProductID).
				For("UPDATE").
				Scan(ctx)
			if err != nil {
				if isNoRows(err) {
					return fmt.Errorf("%w: %s", orderflow.ErrProductNotFound, it.ProductID)
				}
				return fmt.Errorf("orderflow/bun: reserve read product: %w", err)
			}
			if p.Available < it.Quantity {
				return fmt.Errorf("%w: product %s has %d, need %d",
					orderflow.ErrInsufficientStock, it.ProductID, p.Available, it.Quantity)
			}
		}

		now := time.Now().UTC()
		for _, it := range items {
			_, err := tx.NewUpdate().
				TableExpr("orderflow_products").
				Set("available = available - ?", it.Quantity).
				Set("updated_at = ?", now).
				Where("product_id = ?", it.ProductID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("orderflow/bun: reserve decrement: %w", err)
			}

			rsv := &inventory.Reservation{
				Entity:    orderflow.NewEntity(),
				ID:        id.NewReservationID(),
				OrderID:   orderID,
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				State:     inventory.ReservationHeld,
				ExpiresAt: expiry,
			}
			if _, err := tx.NewInsert().Model(toReservationModel(rsv)).Exec(ctx); err != nil {
				return fmt.Errorf("orderflow/bun: reserve insert: %w", err)
			}
			out = append(out, rsv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseForOrder returns every HELD reservation for the order to
// available stock. Idempotent: released and consumed holds are skipped.
func (s *Store) ReleaseForOrder(ctx context.Context, orderID id.OrderID) error {
	return s.settleForOrder(ctx, orderID, inventory.ReservationReleased)
}

// ConsumeForOrder marks every HELD reservation for the order as
// consumed. Stock stays decremented. Idempotent.
func (s *Store) ConsumeForOrder(ctx context.Context, orderID id.OrderID) error {
	return s.settleForOrder(ctx, orderID, inventory.ReservationConsumed)
}

// settleForOrder moves the order's HELD reservations to the given
// terminal state inside one transaction, returning stock on release.
func (s *Store) settleForOrder(ctx context.Context, orderID id.OrderID, to inventory.ReservationState) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var held []reservationModel
		err := tx.NewSelect().Model(&held).
			Where("order_id = ?", orderID.String()).
			Where("state = ?", string(inventory.ReservationHeld)).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("orderflow/bun: settle read holds: %w", err)
		}

		now := time.Now().UTC()
		for i := range held {
			r := &held[i]
			_, err := tx.NewUpdate().
				TableExpr("orderflow_reservations").
				Set("state = ?", string(to)).
				Set("updated_at = ?", now).
				Where("id = ?", r.ID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("orderflow/bun: settle update: %w", err)
			}

			if to != inventory.ReservationReleased {
				continue
			}
			_, err = tx.NewUpdate().
				TableExpr("orderflow_products").
				Set("available = available + ?", r.Quantity).
				Set("updated_at = ?", now).
				Where("product_id = ?", r.ProductID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("orderflow/bun: settle return stock: %w", err)
			}
		}
		return nil
	})
}

// ReleaseExpiredHolds returns every HELD reservation past its expiry to
// available stock, in one transaction.
func (s *Store) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error) {
	released := 0
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		released = 0

		var expired []reservationModel
		err := tx.NewSelect().Model(&expired).
			Where("state = ?", string(inventory.ReservationHeld)).
			Where("expires_at <= ?", now).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("orderflow/bun: sweep read holds: %w", err)
		}

		for i := range expired {
			r := &expired[i]
			_, err := tx.NewUpdate().
				TableExpr("orderflow_reservations").
				Set("state = ?", string(inventory.ReservationReleased)).
				Set("updated_at = ?", now).
				Where("id = ?", r.ID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("orderflow/bun: sweep update: %w", err)
			}
			_, err = tx.NewUpdate().
				TableExpr("orderflow_products").
				Set("available = available + ?", r.Quantity).
				Set("updated_at = ?", now).
				Where("product_id = ?", r.ProductID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("orderflow/bun: sweep return stock: %w", err)
			}
			released++
		}
		return nil
	})
	return released, err
}

// ListReservations returns all reservations attached to an order.
func (s *Store) ListReservations(ctx context.Context, orderID id.OrderID) ([]*inventory.Reservation, error) {
	var models []reservationModel
	err := s.db.NewSelect().Model(&models).
		Where("order_id = ?", orderID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("orderflow/bun: list reservations: %w", err)
	}

	out := make([]*inventory.Reservation, 0, len(models))
	for i := range models {
		rsv, convErr := fromReservationModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, rsv)
	}
	return out, nil
}

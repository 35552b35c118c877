package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
)

// PutProduct creates or replaces a stock record.
func (s *Store) PutProduct(ctx context.Context, p *inventory.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("orderflow/redis: marshal product %s: %w", p.ProductID, err)
	}
	if err := s.client.Set(ctx, productKey(p.ProductID), data, 0).Err(); err != nil {
		return fmt.Errorf("orderflow/redis: put product: %w", err)
	}
	return nil
}

// GetProduct retrieves a stock record.
func (s *Store) GetProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	data, err := s.client.Get(ctx, productKey(productID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, orderflow.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("orderflow/redis: get product: %w", err)
	}

	var p inventory.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("orderflow/redis: unmarshal product %s: %w", productID, err)
	}
	return &p, nil
}

// ReserveStock atomically holds the quantities for every item, or none.
// The stock compare and decrement run under WATCH across all product
// keys, so concurrent reservations for the same products retry rather
// than oversell. Calling again for an order that already holds
// reservations returns the existing holds.
func (s *Store) ReserveStock(ctx context.Context, orderID id.OrderID, items []order.Item, expiry time.Time) ([]*inventory.Reservation, error) {
	oID := orderID.String()
	idxKey := orderReservationsKey(oID)

	watched := make([]string, 0, len(items)+1)
	watched = append(watched, idxKey)
	for _, it := range items {
		watched = append(watched, productKey(it.ProductID))
	}

	var out []*inventory.Reservation
	txn := func(tx *goredis.Tx) error {
		out = nil

		// Idempotency: existing HELD reservations satisfy the call.
		held, err := s.heldForOrder(ctx, tx, oID)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			out = held
			return nil
		}

		// Check every item before decrementing any.
		products := make([]*inventory.Product, len(items))
		for i, it := range items {
			data, getErr := tx.Get(ctx, productKey(it.ProductID)).Bytes()
			if errors.Is(getErr, goredis.Nil) {
				return fmt.Errorf("%w: %s", orderflow.ErrProductNotFound, it.ProductID)
			}
			if getErr != nil {
				return fmt.Errorf("orderflow/redis: reserve read product: %w", getErr)
			}
			var p inventory.Product
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("orderflow/redis: unmarshal product %s: %w", it.ProductID, err)
			}
			if p.Available < it.Quantity {
				return fmt.Errorf("%w: product %s has %d, need %d",
					orderflow.ErrInsufficientStock, it.ProductID, p.Available, it.Quantity)
			}
			products[i] = &p
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for i, it := range items {
				p := products[i]
				p.Available -= it.Quantity
				p.Touch()
				pData, mErr := json.Marshal(p)
				if mErr != nil {
					return mErr
				}
				pipe.Set(ctx, productKey(it.ProductID), pData, 0)

				rsv := &inventory.Reservation{
					Entity:    orderflow.NewEntity(),
					ID:        id.NewReservationID(),
					OrderID:   orderID,
					ProductID: it.ProductID,
					Quantity:  it.Quantity,
					State:     inventory.ReservationHeld,
					ExpiresAt: expiry,
				}
				rData, mErr := json.Marshal(rsv)
				if mErr != nil {
					return mErr
				}
				pipe.Set(ctx, reservationKey(rsv.ID.String()), rData, 0)
				pipe.SAdd(ctx, idxKey, rsv.ID.String())
				out = append(out, rsv)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, watched...)
	if errors.Is(err, goredis.TxFailedErr) {
		return nil, orderflow.ErrVersionConflict
	}
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
// terminal state, one hold at a time. Each hold's state flip and, on
// release, its stock return commit in the same EXEC, so an interruption
// between holds leaves the remainder HELD for the retried settle to
// finish. No settled hold ever strands a decrement.
func (s *Store) settleForOrder(ctx context.Context, orderID id.OrderID, to inventory.ReservationState) error {
	rsvIDs, err := s.client.SMembers(ctx, orderReservationsKey(orderID.String())).Result()
	if err != nil {
		return fmt.Errorf("orderflow/redis: settle reservations: %w", err)
	}
	for _, rID := range rsvIDs {
		if _, err := s.settleHold(ctx, reservationKey(rID), to, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// settleHold flips a single reservation out of HELD and, when releasing,
// returns its quantity to the product inside the same transaction. Both
// the reservation key and the product key are under WATCH. A non-zero
// expiredBefore restricts the settle to holds whose expiry has passed.
// Reports whether the hold was settled.
func (s *Store) settleHold(ctx context.Context, key string, to inventory.ReservationState, expiredBefore time.Time) (bool, error) {
	// Peek to learn the product key so it can be watched too. The txn
	// re-reads the reservation under WATCH before acting on it.
	peek, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("orderflow/redis: read reservation: %w", err)
	}
	var peeked inventory.Reservation
	if err := json.Unmarshal(peek, &peeked); err != nil {
		return false, fmt.Errorf("orderflow/redis: unmarshal reservation: %w", err)
	}
	if peeked.State != inventory.ReservationHeld {
		return false, nil
	}
	pKey := productKey(peeked.ProductID)

	settled := false
	txn := func(tx *goredis.Tx) error {
		settled = false

		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("orderflow/redis: read reservation: %w", err)
		}
		var rsv inventory.Reservation
		if err := json.Unmarshal(data, &rsv); err != nil {
			return fmt.Errorf("orderflow/redis: unmarshal reservation: %w", err)
		}
		if rsv.State != inventory.ReservationHeld {
			return nil
		}
		if !expiredBefore.IsZero() && rsv.ExpiresAt.After(expiredBefore) {
			return nil
		}

		rsv.State = to
		rsv.Touch()
		rData, err := json.Marshal(&rsv)
		if err != nil {
			return err
		}

		var pData []byte
		if to == inventory.ReservationReleased {
			raw, getErr := tx.Get(ctx, pKey).Bytes()
			if errors.Is(getErr, goredis.Nil) {
				return fmt.Errorf("%w: %s", orderflow.ErrProductNotFound, rsv.ProductID)
			}
			if getErr != nil {
				return fmt.Errorf("orderflow/redis: settle read product: %w", getErr)
			}
			var p inventory.Product
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("orderflow/redis: unmarshal product %s: %w", rsv.ProductID, err)
			}
			p.Available += rsv.Quantity
			p.Touch()
			if pData, err = json.Marshal(&p); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, rData, 0)
			if pData != nil {
				pipe.Set(ctx, pKey, pData, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		settled = true
		return nil
	}

	err = s.client.Watch(ctx, txn, key, pKey)
	if errors.Is(err, goredis.TxFailedErr) {
		return false, orderflow.ErrVersionConflict
	}
	return settled, err
}

// ReleaseExpiredHolds scans all reservations and returns every HELD one
// past its expiry to available stock. Each hold settles under its own
// WATCH transaction, so a concurrent settle on the same order wins and
// the sweep skips it.
func (s *Store) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error) {
	released := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"rsv:*", 256).Iterator()
	for iter.Next(ctx) {
		ok, err := s.settleHold(ctx, iter.Val(), inventory.ReservationReleased, now)
		if errors.Is(err, orderflow.ErrVersionConflict) {
			// Settled concurrently; the sweep moves on.
			continue
		}
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}
	if err := iter.Err(); err != nil {
		return released, fmt.Errorf("orderflow/redis: scan reservations: %w", err)
	}
	return released, nil
}

// ListReservations returns all reservations attached to an order.
func (s *Store) ListReservations(ctx context.Context, orderID id.OrderID) ([]*inventory.Reservation, error) {
	rsvIDs, err := s.client.SMembers(ctx, orderReservationsKey(orderID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("orderflow/redis: list reservations: %w", err)
	}

	out := make([]*inventory.Reservation, 0, len(rsvIDs))
	for _, rID := range rsvIDs {
		data, getErr := s.client.Get(ctx, reservationKey(rID)).Bytes()
		if getErr != nil {
			continue
		}
		var rsv inventory.Reservation
		if json.Unmarshal(data, &rsv) != nil {
			continue
		}
		out = append(out, &rsv)
	}
	return out, nil
}

// heldForOrder reads the order's reservations through tx and returns the
// ones still HELD.
func (s *Store) heldForOrder(ctx context.Context, tx *goredis.Tx, orderID string) ([]*inventory.Reservation, error) {
	rsvIDs, err := tx.SMembers(ctx, orderReservationsKey(orderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("orderflow/redis: read order reservations: %w", err)
	}

	var held []*inventory.Reservation
	for _, rID := range rsvIDs {
		data, getErr := tx.Get(ctx, reservationKey(rID)).Bytes()
		if errors.Is(getErr, goredis.Nil) {
			continue
		}
		if getErr != nil {
			return nil, fmt.Errorf("orderflow/redis: read reservation: %w", getErr)
		}
		var rsv inventory.Reservation
		if err := json.Unmarshal(data, &rsv); err != nil {
			return nil, fmt.Errorf("orderflow/redis: unmarshal reservation %s: %w", rID, err)
		}
		if rsv.State == inventory.ReservationHeld {
			held = append(held, &rsv)
		}
	}
	return held, nil
}

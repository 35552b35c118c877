package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stream"
)

// CreateOrder persists a new order and emits its creation event.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	m := toOrderModel(o)
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return orderflow.ErrOrderAlreadyExists
		}
		return fmt.Errorf("orderflow/bun: create order: %w", err)
	}

	log := s.appender()
	if log == nil {
		return nil
	}
	// A creation event has no prior status.
	return log.Append(ctx, stream.NewChangeEvent(o, ""))
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	m := new(orderModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", orderID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, orderflow.ErrOrderNotFound
		}
		return nil, fmt.Errorf("orderflow/bun: get order: %w", err)
	}
	return fromOrderModel(m)
}

// PutOrderIfVersion writes o only when the stored version still equals
// expectedVersion, then emits the transition event. The compare runs
// under FOR UPDATE inside a transaction, so concurrent writers serialize
// on the row and the loser sees the bumped version.
func (s *Store) PutOrderIfVersion(ctx context.Context, o *order.Order, expectedVersion int64) error {
	m := toOrderModel(o)
	m.UpdatedAt = time.Now().UTC()

	var before order.Status
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		cur := new(orderModel)
		err := tx.NewSelect().Model(cur).
			Where("id = ?", m.ID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return orderflow.ErrOrderNotFound
			}
			return fmt.Errorf("orderflow/bun: put order read: %w", err)
		}
		if cur.Version != expectedVersion {
			return orderflow.ErrVersionConflict
		}
		before = order.Status(cur.Status)

		if _, err := tx.NewUpdate().Model(m).WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("orderflow/bun: put order write: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log := s.appender()
	if log == nil {
		return nil
	}
	cp := o.Clone()
	cp.UpdatedAt = m.UpdatedAt
	return log.Append(ctx, stream.NewChangeEvent(cp, before))
}

// ListOrders returns orders matching opts, newest first.
func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	var models []orderModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}

	q = q.Order("created_at DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("orderflow/bun: list orders: %w", err)
	}

	orders := make([]*order.Order, 0, len(models))
	for i := range models {
		o, convErr := fromOrderModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("orderflow/bun: list orders convert: %w", convErr)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

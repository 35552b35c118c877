package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stream"
)

// CreateOrder persists a new order and emits its creation event.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	oID := o.ID.String()
	key := orderKey(oID)

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("orderflow/redis: marshal order %s: %w", oID, err)
	}

	set, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("orderflow/redis: create order: %w", err)
	}
	if !set {
		return orderflow.ErrOrderAlreadyExists
	}
	if err := s.client.SAdd(ctx, orderIDsKey, oID).Err(); err != nil {
		return fmt.Errorf("orderflow/redis: create order index: %w", err)
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
	data, err := s.client.Get(ctx, orderKey(orderID.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, orderflow.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("orderflow/redis: get order: %w", err)
	}

	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("orderflow/redis: unmarshal order %s: %w", orderID, err)
	}
	return &o, nil
}

// PutOrderIfVersion writes o only when the stored version still equals
// expectedVersion, then emits the transition event. The compare runs
// under WATCH, so a concurrent write aborts the transaction.
func (s *Store) PutOrderIfVersion(ctx context.Context, o *order.Order, expectedVersion int64) error {
	key := orderKey(o.ID.String())

	cp := o.Clone()
	cp.Touch()

	var before order.Status
	txn := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return orderflow.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("orderflow/redis: put order read: %w", err)
		}

		var cur order.Order
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("orderflow/redis: unmarshal order %s: %w", o.ID, err)
		}
		if cur.Version != expectedVersion {
			return orderflow.ErrVersionConflict
		}
		before = cur.Status

		next, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("orderflow/redis: marshal order %s: %w", o.ID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txn, key)
	if errors.Is(err, goredis.TxFailedErr) {
		// Someone else wrote between our read and the EXEC.
		return orderflow.ErrVersionConflict
	}
	if err != nil {
		return err
	}

	log := s.appender()
	if log == nil {
		return nil
	}
	return log.Append(ctx, stream.NewChangeEvent(cp, before))
}

// ListOrders returns orders matching opts, newest first.
func (s *Store) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	ids, err := s.client.SMembers(ctx, orderIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orderflow/redis: list orders: %w", err)
	}

	matched := make([]*order.Order, 0, len(ids))
	for _, oID := range ids {
		data, getErr := s.client.Get(ctx, orderKey(oID)).Bytes()
		if getErr != nil {
			continue
		}
		var o order.Order
		if json.Unmarshal(data, &o) != nil {
			continue
		}
		if opts.Status != "" && o.Status != opts.Status {
			continue
		}
		matched = append(matched, &o)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

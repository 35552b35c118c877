package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/id"
)

// PushDLQ adds a parked event entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	key := dlqKey(eID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orderflow/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orderflow/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if !opts.OrderID.IsNil() && e.OrderID != opts.OrderID {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DeadLetteredAt.After(entries[j].DeadLetteredAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("orderflow/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, orderflow.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orderflow/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return orderflow.ErrDLQNotFound
	}

	err = s.client.HSet(ctx, key,
		"replayed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("orderflow/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes DLQ entries dead-lettered before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("orderflow/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		atStr, getErr := s.client.HGet(ctx, key, "dead_lettered_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("orderflow/redis: purge dlq get: %w", getErr)
		}

		at, _ := time.Parse(time.RFC3339Nano, atStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if at.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("orderflow/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("orderflow/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":               e.ID.String(),
		"event_id":         e.EventID.String(),
		"order_id":         e.OrderID.String(),
		"partition":        strconv.Itoa(e.Partition),
		"event":            string(e.Event),
		"error":            e.Error,
		"attempts":         strconv.Itoa(e.Attempts),
		"dead_lettered_at": e.DeadLetteredAt.Format(time.RFC3339Nano),
		"created_at":       e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("orderflow/redis: parse dlq id: %w", err)
	}
	// Best-effort parses: the remaining fields come from data this store
	// wrote itself.
	eventID, _ := id.ParseEventID(m["event_id"])
	orderID, _ := id.ParseOrderID(m["order_id"])
	partition, _ := strconv.Atoi(m["partition"])
	attempts, _ := strconv.Atoi(m["attempts"])
	deadLetteredAt, _ := time.Parse(time.RFC3339Nano, m["dead_lettered_at"])
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])

	e := &dlq.Entry{
		ID:             eID,
		EventID:        eventID,
		OrderID:        orderID,
		Partition:      partition,
		Event:          []byte(m["event"]),
		Error:          m["error"],
		Attempts:       attempts,
		DeadLetteredAt: deadLetteredAt,
		CreatedAt:      createdAt,
	}

	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}

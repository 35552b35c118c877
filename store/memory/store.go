package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/stream"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ order.Store            = (*Store)(nil)
	_ inventory.Store        = (*Store)(nil)
	_ dlq.Store              = (*Store)(nil)
	_ stream.CheckpointStore = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	orders       map[string]*order.Order
	products     map[string]*inventory.Product
	reservations map[string]*inventory.Reservation
	dlqs         map[string]*dlq.Entry
	checkpoints  map[int]string

	changeLog stream.Appender
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		orders:       make(map[string]*order.Order),
		products:     make(map[string]*inventory.Product),
		reservations: make(map[string]*inventory.Reservation),
		dlqs:         make(map[string]*dlq.Entry),
		checkpoints:  make(map[int]string),
	}
}

// SetChangeLog wires the change log that receives events after accepted
// order writes.
func (m *Store) SetChangeLog(appender stream.Appender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeLog = appender
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Order Store
// ──────────────────────────────────────────────────

// CreateOrder persists a new order and emits its creation event.
func (m *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	m.mu.Lock()

	key := o.ID.String()
	if _, exists := m.orders[key]; exists {
		m.mu.Unlock()
		return orderflow.ErrOrderAlreadyExists
	}
	m.orders[key] = o.Clone()
	log := m.changeLog
	m.mu.Unlock()

	if log == nil {
		return nil
	}
	// A creation event has no prior status.
	evt := stream.NewChangeEvent(o, "")
	return log.Append(ctx, evt)
}

// GetOrder retrieves an order by ID.
func (m *Store) GetOrder(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID.String()]
	if !ok {
		return nil, orderflow.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// PutOrderIfVersion writes o only when the stored version still equals
// expectedVersion, then emits the transition event.
func (m *Store) PutOrderIfVersion(ctx context.Context, o *order.Order, expectedVersion int64) error {
	m.mu.Lock()

	key := o.ID.String()
	cur, ok := m.orders[key]
	if !ok {
		m.mu.Unlock()
		return orderflow.ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		m.mu.Unlock()
		return orderflow.ErrVersionConflict
	}

	before := cur.Status
	cp := o.Clone()
	cp.Touch()
	m.orders[key] = cp
	log := m.changeLog
	m.mu.Unlock()

	if log == nil {
		return nil
	}
	evt := stream.NewChangeEvent(cp, before)
	return log.Append(ctx, evt)
}

// ListOrders returns orders matching opts, newest first.
func (m *Store) ListOrders(_ context.Context, opts order.ListOpts) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if opts.Status != "" && o.Status != opts.Status {
			continue
		}
		matched = append(matched, o)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, opts.Offset, opts.Limit, func(o *order.Order) *order.Order {
		return o.Clone()
	}), nil
}

// ──────────────────────────────────────────────────
// Inventory Store
// ──────────────────────────────────────────────────

// PutProduct creates or replaces a stock record.
func (m *Store) PutProduct(_ context.Context, p *inventory.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.products[p.ProductID] = &cp
	return nil
}

// GetProduct retrieves a stock record.
func (m *Store) GetProduct(_ context.Context, productID string) (*inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, orderflow.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

// ReserveStock atomically holds the quantities for every item, or none.
func (m *Store) ReserveStock(_ context.Context, orderID id.OrderID, items []order.Item, expiry time.Time) ([]*inventory.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotency: an order that already holds reservations gets them back.
	if existing := m.heldForOrderLocked(orderID); len(existing) > 0 {
		return existing, nil
	}

	// Check every item before touching stock; no partial hold may survive.
	for _, item := range items {
		p, ok := m.products[item.ProductID]
		if !ok {
			return nil, orderflow.ErrProductNotFound
		}
		if p.Available < item.Quantity {
			return nil, orderflow.ErrInsufficientStock
		}
	}

	out := make([]*inventory.Reservation, 0, len(items))
	for _, item := range items {
		p := m.products[item.ProductID]
		p.Available -= item.Quantity
		p.Touch()

		r := &inventory.Reservation{
			Entity:    orderflow.NewEntity(),
			ID:        id.NewReservationID(),
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			State:     inventory.ReservationHeld,
			ExpiresAt: expiry,
		}
		m.reservations[r.ID.String()] = r
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// ReleaseForOrder returns every held reservation for the order to stock.
func (m *Store) ReleaseForOrder(_ context.Context, orderID id.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.reservations {
		if r.OrderID != orderID || r.State != inventory.ReservationHeld {
			continue
		}
		if p, ok := m.products[r.ProductID]; ok {
			p.Available += r.Quantity
			p.Touch()
		}
		r.State = inventory.ReservationReleased
		r.Touch()
	}
	return nil
}

// ConsumeForOrder marks every held reservation for the order as consumed.
func (m *Store) ConsumeForOrder(_ context.Context, orderID id.OrderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.reservations {
		if r.OrderID != orderID || r.State != inventory.ReservationHeld {
			continue
		}
		r.State = inventory.ReservationConsumed
		r.Touch()
	}
	return nil
}

// ListReservations returns all reservations attached to an order.
func (m *Store) ListReservations(_ context.Context, orderID id.OrderID) ([]*inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*inventory.Reservation, 0, 4)
	for _, r := range m.reservations {
		if r.OrderID != orderID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ReleaseExpiredHolds returns every held reservation past its expiry to
// available stock.
func (m *Store) ReleaseExpiredHolds(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for _, r := range m.reservations {
		if r.State != inventory.ReservationHeld || r.ExpiresAt.After(now) {
			continue
		}
		if p, ok := m.products[r.ProductID]; ok {
			p.Available += r.Quantity
			p.Touch()
		}
		r.State = inventory.ReservationReleased
		r.Touch()
		released++
	}
	return released, nil
}

func (m *Store) heldForOrderLocked(orderID id.OrderID) []*inventory.Reservation {
	var out []*inventory.Reservation
	for _, r := range m.reservations {
		if r.OrderID != orderID || r.State != inventory.ReservationHeld {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a parked event entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries matching opts, newest first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if !opts.OrderID.IsNil() && e.OrderID != opts.OrderID {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].DeadLetteredAt.After(matched[j].DeadLetteredAt)
	})

	return paginate(matched, opts.Offset, opts.Limit, func(e *dlq.Entry) *dlq.Entry {
		cp := *e
		return &cp
	}), nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, orderflow.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return orderflow.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes entries dead-lettered before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, e := range m.dlqs {
		if e.DeadLetteredAt.Before(before) {
			delete(m.dlqs, key)
			removed++
		}
	}
	return removed, nil
}

// CountDLQ returns the total number of DLQ entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

// ──────────────────────────────────────────────────
// Stream checkpoints
// ──────────────────────────────────────────────────

// SaveStreamCheckpoint records the last acked sequence token for a
// partition.
func (m *Store) SaveStreamCheckpoint(_ context.Context, partition int, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[partition] = token
	return nil
}

// GetStreamCheckpoint returns the last saved token for a partition.
func (m *Store) GetStreamCheckpoint(_ context.Context, partition int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[partition], nil
}

// paginate applies offset/limit and copies each element through cp.
func paginate[T any](in []T, offset, limit int, cp func(T) T) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	out := make([]T, 0, len(in))
	for _, v := range in {
		out = append(out, cp(v))
	}
	return out
}

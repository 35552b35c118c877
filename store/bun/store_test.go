//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
	bunstore "github.com/tidemark/orderflow/store/bun"
	"github.com/tidemark/orderflow/stream"
)

// setupTestStore creates a Postgres container and returns a connected
// Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("orderflow_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db, bunstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func testOrder() *order.Order {
	return order.New(
		order.Customer{ID: "cust-1", Email: "jo@example.com", Name: "Jo"},
		[]order.Item{{ProductID: "widget", Quantity: 2, UnitPrice: 10.00}},
		order.Address{Line1: "1 Main St", City: "Springfield", Country: "US"},
		"card",
		7*24*time.Hour,
	)
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Order Store tests
// ──────────────────────────────────────────────────

func TestOrderStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	o := testOrder()
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Duplicate should fail.
	if dupErr := s.CreateOrder(ctx, o); !errors.Is(dupErr, orderflow.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got: %v", dupErr)
	}

	got, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != order.StatusCreated {
		t.Fatalf("expected status CREATED, got %s", got.Status)
	}
	if got.Total != 20.00 {
		t.Fatalf("expected total 20.00, got %.2f", got.Total)
	}
	if len(got.Items) != 1 || got.Items[0].ProductID != "widget" {
		t.Fatalf("items did not round-trip: %+v", got.Items)
	}
}

func TestOrderStore_PutIfVersion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	o := testOrder()
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	o.Status = order.StatusValidating
	o.Version = 2
	if err := s.PutOrderIfVersion(ctx, o, 1); err != nil {
		t.Fatalf("put v1->v2: %v", err)
	}

	// A second write against the old version must conflict.
	stale := o.Clone()
	stale.Status = order.StatusCancelled
	if err := s.PutOrderIfVersion(ctx, stale, 1); !errors.Is(err, orderflow.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got: %v", err)
	}

	got, err := s.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != order.StatusValidating || got.Version != 2 {
		t.Fatalf("expected VALIDATING v2, got %s v%d", got.Status, got.Version)
	}
}

func TestOrderStore_PutEmitsChangeEvent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	log := stream.NewMemoryLog(4)
	s.SetChangeLog(log)

	o := testOrder()
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	part := stream.PartitionFor(o.ID, 4)
	evt, err := log.Pull(ctx, part)
	if err != nil || evt == nil {
		t.Fatalf("expected creation event, got evt=%v err=%v", evt, err)
	}
	if evt.StatusAfter != order.StatusCreated {
		t.Fatalf("expected CREATED event, got %s", evt.StatusAfter)
	}
}

func TestOrderStore_List(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.CreateOrder(ctx, testOrder()); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	all, err := s.ListOrders(ctx, order.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(all))
	}

	none, err := s.ListOrders(ctx, order.ListOpts{Status: order.StatusCompleted})
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected 0 completed orders, got %d", len(none))
	}
}

// ──────────────────────────────────────────────────
// Inventory Store tests
// ──────────────────────────────────────────────────

func seedProduct(t *testing.T, s *bunstore.Store, sku string, available int) {
	t.Helper()
	p := &inventory.Product{
		Entity:    orderflow.NewEntity(),
		ProductID: sku,
		Name:      sku,
		UnitPrice: 10.00,
		Available: available,
	}
	if err := s.PutProduct(context.Background(), p); err != nil {
		t.Fatalf("put product: %v", err)
	}
}

func TestInventoryStore_ReserveReleaseConsume(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "widget", 5)

	orderID := id.NewOrderID()
	items := []order.Item{{ProductID: "widget", Quantity: 2, UnitPrice: 10.00}}

	rsvs, err := s.ReserveStock(ctx, orderID, items, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(rsvs) != 1 || rsvs[0].State != inventory.ReservationHeld {
		t.Fatalf("expected 1 HELD reservation, got %+v", rsvs)
	}

	p, _ := s.GetProduct(ctx, "widget")
	if p.Available != 3 {
		t.Fatalf("expected 3 available after hold, got %d", p.Available)
	}

	// Re-reserving the same order returns the existing hold.
	again, err := s.ReserveStock(ctx, orderID, items, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("re-reserve: %v", err)
	}
	if len(again) != 1 || again[0].ID != rsvs[0].ID {
		t.Fatalf("expected existing hold back, got %+v", again)
	}
	p, _ = s.GetProduct(ctx, "widget")
	if p.Available != 3 {
		t.Fatalf("re-reserve decremented stock again: %d", p.Available)
	}

	// Release returns the stock once.
	if err := s.ReleaseForOrder(ctx, orderID); err != nil {
		t.Fatalf("release: %v", err)
	}
	p, _ = s.GetProduct(ctx, "widget")
	if p.Available != 5 {
		t.Fatalf("expected 5 available after release, got %d", p.Available)
	}
	if err := s.ReleaseForOrder(ctx, orderID); err != nil {
		t.Fatalf("re-release: %v", err)
	}
	p, _ = s.GetProduct(ctx, "widget")
	if p.Available != 5 {
		t.Fatalf("double release returned stock twice: %d", p.Available)
	}
}

func TestInventoryStore_AllOrNothing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "widget", 5)
	seedProduct(t, s, "gadget", 1)

	orderID := id.NewOrderID()
	items := []order.Item{
		{ProductID: "widget", Quantity: 2, UnitPrice: 10.00},
		{ProductID: "gadget", Quantity: 3, UnitPrice: 10.00},
	}

	_, err := s.ReserveStock(ctx, orderID, items, time.Now().Add(time.Hour))
	if !errors.Is(err, orderflow.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	// The widget hold must not survive the failed gadget hold.
	p, _ := s.GetProduct(ctx, "widget")
	if p.Available != 5 {
		t.Fatalf("partial hold survived, widget available %d", p.Available)
	}
}

func TestInventoryStore_ConsumeKeepsStockOut(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "widget", 5)

	orderID := id.NewOrderID()
	items := []order.Item{{ProductID: "widget", Quantity: 2, UnitPrice: 10.00}}
	if _, err := s.ReserveStock(ctx, orderID, items, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := s.ConsumeForOrder(ctx, orderID); err != nil {
		t.Fatalf("consume: %v", err)
	}
	p, _ := s.GetProduct(ctx, "widget")
	if p.Available != 3 {
		t.Fatalf("consume changed stock, got %d", p.Available)
	}

	// Release after consume is a no-op.
	if err := s.ReleaseForOrder(ctx, orderID); err != nil {
		t.Fatalf("release after consume: %v", err)
	}
	p, _ = s.GetProduct(ctx, "widget")
	if p.Available != 3 {
		t.Fatalf("release after consume returned stock: %d", p.Available)
	}
}

func TestInventoryStore_ReleaseExpiredHolds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "widget", 10)

	expired := id.NewOrderID()
	fresh := id.NewOrderID()
	items := []order.Item{{ProductID: "widget", Quantity: 2, UnitPrice: 10.00}}
	if _, err := s.ReserveStock(ctx, expired, items, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("reserve expired: %v", err)
	}
	if _, err := s.ReserveStock(ctx, fresh, items, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	released, err := s.ReleaseExpiredHolds(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released hold, got %d", released)
	}

	p, _ := s.GetProduct(ctx, "widget")
	if p.Available != 8 {
		t.Fatalf("expected 8 available after sweep, got %d", p.Available)
	}

	rs, _ := s.ListReservations(ctx, fresh)
	if len(rs) != 1 || rs[0].State != inventory.ReservationHeld {
		t.Fatalf("fresh hold disturbed by sweep: %+v", rs)
	}

	// Second sweep finds nothing.
	released, err = s.ReleaseExpiredHolds(ctx, time.Now())
	if err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected 0 on repeat sweep, got %d", released)
	}
}

func TestInventoryStore_OpposingItemOrderDoesNotDeadlock(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedProduct(t, s, "widget", 100)
	seedProduct(t, s, "gadget", 100)

	// Two writers hold the same pair of products but list them in
	// opposite orders. Row locks are taken in product ID order, so the
	// transactions queue instead of deadlocking.
	forward := []order.Item{
		{ProductID: "gadget", Quantity: 1, UnitPrice: 10.00},
		{ProductID: "widget", Quantity: 1, UnitPrice: 10.00},
	}
	reverse := []order.Item{
		{ProductID: "widget", Quantity: 1, UnitPrice: 10.00},
		{ProductID: "gadget", Quantity: 1, UnitPrice: 10.00},
	}

	const rounds = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for _, items := range [][]order.Item{forward, reverse} {
		wg.Add(1)
		go func(items []order.Item) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if _, err := s.ReserveStock(ctx, id.NewOrderID(), items, time.Now().Add(time.Hour)); err != nil {
					errs <- err
					return
				}
			}
		}(items)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("reserve: %v", err)
	}

	w, _ := s.GetProduct(ctx, "widget")
	g, _ := s.GetProduct(ctx, "gadget")
	if w.Available != 100-2*rounds || g.Available != 100-2*rounds {
		t.Fatalf("stock mismatch: widget %d gadget %d", w.Available, g.Available)
	}
}

// ──────────────────────────────────────────────────
// DLQ and checkpoint tests
// ──────────────────────────────────────────────────

func TestDLQStore_Roundtrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := &dlq.Entry{
		ID:             id.NewDLQID(),
		EventID:        id.NewEventID(),
		OrderID:        id.NewOrderID(),
		Partition:      3,
		Event:          []byte(`{"kind":"test"}`),
		Error:          "order not found",
		Attempts:       11,
		DeadLetteredAt: time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.PushDLQ(ctx, entry); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Partition != 3 || got.Attempts != 11 || string(got.Event) != `{"kind":"test"}` {
		t.Fatalf("entry did not round-trip: %+v", got)
	}

	byOrder, err := s.ListDLQ(ctx, dlq.ListOpts{OrderID: entry.OrderID})
	if err != nil || len(byOrder) != 1 {
		t.Fatalf("list by order: %v (%d entries)", err, len(byOrder))
	}

	if err := s.ReplayDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	got, _ = s.GetDLQ(ctx, entry.ID)
	if got.ReplayedAt == nil {
		t.Fatal("expected ReplayedAt to be set after replay")
	}

	purged, err := s.PurgeDLQ(ctx, time.Now().Add(time.Minute))
	if err != nil || purged != 1 {
		t.Fatalf("purge: %v (purged %d)", err, purged)
	}
	if n, _ := s.CountDLQ(ctx); n != 0 {
		t.Fatalf("expected empty DLQ after purge, got %d", n)
	}
}

func TestCheckpointStore_SaveAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if token, err := s.GetStreamCheckpoint(ctx, 1); err != nil || token != "" {
		t.Fatalf("expected empty checkpoint, got %q err=%v", token, err)
	}

	if err := s.SaveStreamCheckpoint(ctx, 1, "42"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveStreamCheckpoint(ctx, 1, "43"); err != nil {
		t.Fatalf("save overwrite: %v", err)
	}

	token, err := s.GetStreamCheckpoint(ctx, 1)
	if err != nil || token != "43" {
		t.Fatalf("expected token 43, got %q err=%v", token, err)
	}
}

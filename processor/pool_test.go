package processor_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/hook"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/middleware"
	"github.com/tidemark/orderflow/notify"
	"github.com/tidemark/orderflow/orchestrator"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/payment"
	"github.com/tidemark/orderflow/processor"
	"github.com/tidemark/orderflow/retry"
	"github.com/tidemark/orderflow/stage"
	"github.com/tidemark/orderflow/store/memory"
	"github.com/tidemark/orderflow/stream"
)

func setupTestPool(t *testing.T, concurrency int, opts ...processor.PoolOption) (
	*processor.Pool, *memory.Store, *payment.Fake,
) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := memory.New()
	log := stream.NewMemoryLog(8, stream.WithCheckpointStore(s))
	s.SetChangeLog(log)

	capturer := payment.NewFake()
	sender := notify.NewFake()

	registry := stage.NewRegistry()
	registry.Register(order.StatusValidating, stage.NewValidator())
	registry.Register(order.StatusCheckingInventory, stage.NewInventoryWorker(s))
	registry.Register(order.StatusProcessingPayment, stage.NewPaymentWorker(capturer))
	registry.Register(order.StatusFulfilling, stage.NewFulfillmentWorker(s))
	registry.Register(order.StatusNotifying, stage.NewNotifierWorker(sender))

	policies := retry.NewPolicies(retry.Policy{MaxAttempts: 3, Strategy: retry.NewConstant(time.Millisecond)}).
		Set(stage.Notify, retry.Policy{MaxAttempts: 2, Strategy: retry.NewConstant(time.Millisecond), Relaxed: true})

	orch := orchestrator.New(
		s, s, capturer, registry, policies,
		dlq.NewService(s, log),
		hook.NewRegistry(logger),
		logger,
		3,
		middleware.Recover(logger),
	)

	allOpts := append([]processor.PoolOption{
		processor.WithPoolConcurrency(concurrency),
		processor.WithPollInterval(5 * time.Millisecond),
		processor.WithErrorDelay(5 * time.Millisecond),
	}, opts...)

	pool := processor.NewPool(log, orch, hook.NewRegistry(logger), logger, allOpts...)
	return pool, s, capturer
}

func seedProduct(t *testing.T, s *memory.Store, sku string, available int) {
	t.Helper()
	p := &inventory.Product{
		Entity:    orderflow.NewEntity(),
		ProductID: sku,
		Name:      sku,
		UnitPrice: 10.00,
		Available: available,
	}
	if err := s.PutProduct(context.Background(), p); err != nil {
		t.Fatalf("PutProduct: %v", err)
	}
}

func createOrder(t *testing.T, s *memory.Store, qty int) *order.Order {
	t.Helper()
	o := order.New(
		order.Customer{ID: "cust-1", Email: "alice@example.com", Name: "Alice"},
		[]order.Item{{ProductID: "sku-1", Quantity: qty, UnitPrice: 10.00}},
		order.Address{Line1: "1 Main St", City: "Springfield", Country: "US"},
		"card",
		7*24*time.Hour,
	)
	if err := s.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func waitForStatus(t *testing.T, s *memory.Store, orderID id.OrderID, want order.Status) *order.Order {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		o, err := s.GetOrder(context.Background(), orderID)
		if err != nil {
			t.Fatalf("GetOrder: %v", err)
		}
		if o.Status == want {
			return o
		}
		time.Sleep(5 * time.Millisecond)
	}
	o, _ := s.GetOrder(context.Background(), orderID)
	t.Fatalf("order never reached %s; status = %s", want, o.Status)
	return nil
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_DrivesOrderToCompletion(t *testing.T) {
	pool, s, capturer := setupTestPool(t, 2)
	seedProduct(t, s, "sku-1", 5)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck

	o := createOrder(t, s, 2)
	final := waitForStatus(t, s, o.ID, order.StatusCompleted)

	if capturer.ChargeCount() != 1 {
		t.Errorf("charges = %d, want 1", capturer.ChargeCount())
	}
	if final.ShipmentID.IsNil() {
		t.Error("no shipment recorded")
	}
}

func TestPool_DrivesConcurrentOrders(t *testing.T) {
	pool, s, capturer := setupTestPool(t, 4)
	seedProduct(t, s, "sku-1", 100)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck

	orders := make([]*order.Order, 0, 10)
	for range 10 {
		orders = append(orders, createOrder(t, s, 1))
	}
	for _, o := range orders {
		waitForStatus(t, s, o.ID, order.StatusCompleted)
	}

	if capturer.ChargeCount() != 10 {
		t.Errorf("charges = %d, want 10", capturer.ChargeCount())
	}
	p, _ := s.GetProduct(context.Background(), "sku-1")
	if p.Available != 90 {
		t.Errorf("available = %d, want 90", p.Available)
	}
}

func TestPool_RateLimitedStillCompletes(t *testing.T) {
	pool, s, _ := setupTestPool(t, 2, processor.WithRateLimit(rate.Limit(200), 10))
	seedProduct(t, s, "sku-1", 5)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck

	o := createOrder(t, s, 1)
	waitForStatus(t, s, o.ID, order.StatusCompleted)
}

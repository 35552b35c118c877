package hook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/hook"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/order"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnOrderCreated(_ context.Context, _ *order.Order) error {
	e.calls = append(e.calls, "OnOrderCreated")
	return nil
}

func (e *allHooksExt) OnStageCompleted(_ context.Context, _ *order.Order, _ string, _ time.Duration) error {
	e.calls = append(e.calls, "OnStageCompleted")
	return nil
}

func (e *allHooksExt) OnStageFailed(_ context.Context, _ *order.Order, _ string, _ string) error {
	e.calls = append(e.calls, "OnStageFailed")
	return nil
}

func (e *allHooksExt) OnRetryScheduled(_ context.Context, _ *order.Order, _ string, _ int, _ time.Time) error {
	e.calls = append(e.calls, "OnRetryScheduled")
	return nil
}

func (e *allHooksExt) OnOrderCompleted(_ context.Context, _ *order.Order) error {
	e.calls = append(e.calls, "OnOrderCompleted")
	return nil
}

func (e *allHooksExt) OnOrderCancelled(_ context.Context, _ *order.Order) error {
	e.calls = append(e.calls, "OnOrderCancelled")
	return nil
}

func (e *allHooksExt) OnCompensationStarted(_ context.Context, _ *order.Order) error {
	e.calls = append(e.calls, "OnCompensationStarted")
	return nil
}

func (e *allHooksExt) OnEventDeadLettered(_ context.Context, _ *dlq.Entry) error {
	e.calls = append(e.calls, "OnEventDeadLettered")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// orderOnlyExt only implements order terminal hooks.
type orderOnlyExt struct {
	calls []string
}

func (e *orderOnlyExt) Name() string { return "order-only" }

func (e *orderOnlyExt) OnOrderCompleted(_ context.Context, _ *order.Order) error {
	e.calls = append(e.calls, "OnOrderCompleted")
	return nil
}

func (e *orderOnlyExt) OnOrderCancelled(_ context.Context, _ *order.Order) error {
	e.calls = append(e.calls, "OnOrderCancelled")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnOrderCreated(_ context.Context, _ *order.Order) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func newRegistry() *hook.Registry {
	return hook.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestOrder() *order.Order {
	return order.New(
		order.Customer{ID: "cust-1", Email: "alice@example.com", Name: "Alice"},
		[]order.Item{{ProductID: "sku-1", Quantity: 1, UnitPrice: 10.00}},
		order.Address{Line1: "1 Main St", City: "Springfield", Country: "US"},
		"card",
		7*24*time.Hour,
	)
}

func TestRegistry_EmitsAllHooks(t *testing.T) {
	r := newRegistry()
	ext := &allHooksExt{}
	r.Register(ext)

	ctx := context.Background()
	o := newTestOrder()

	r.EmitOrderCreated(ctx, o)
	r.EmitStageCompleted(ctx, o, "validate", time.Millisecond)
	r.EmitStageFailed(ctx, o, "capture_payment", "processor unreachable")
	r.EmitRetryScheduled(ctx, o, "capture_payment", 1, time.Now().Add(time.Second))
	r.EmitOrderCompleted(ctx, o)
	r.EmitOrderCancelled(ctx, o)
	r.EmitCompensationStarted(ctx, o)
	r.EmitEventDeadLettered(ctx, &dlq.Entry{ID: id.NewDLQID()})
	r.EmitShutdown(ctx)

	want := []string{
		"OnOrderCreated",
		"OnStageCompleted",
		"OnStageFailed",
		"OnRetryScheduled",
		"OnOrderCompleted",
		"OnOrderCancelled",
		"OnCompensationStarted",
		"OnEventDeadLettered",
		"OnShutdown",
	}
	if len(ext.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ext.calls, want)
	}
	for i := range want {
		if ext.calls[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, ext.calls[i], want[i])
		}
	}
}

func TestRegistry_PartialExtensionOnlyGetsItsHooks(t *testing.T) {
	r := newRegistry()
	ext := &orderOnlyExt{}
	r.Register(ext)

	ctx := context.Background()
	o := newTestOrder()

	// These have no receiver on the partial extension.
	r.EmitOrderCreated(ctx, o)
	r.EmitStageCompleted(ctx, o, "validate", time.Millisecond)
	r.EmitShutdown(ctx)

	r.EmitOrderCompleted(ctx, o)
	r.EmitOrderCancelled(ctx, o)

	want := []string{"OnOrderCompleted", "OnOrderCancelled"}
	if len(ext.calls) != 2 || ext.calls[0] != want[0] || ext.calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", ext.calls, want)
	}
}

func TestRegistry_HookErrorsAreSwallowed(t *testing.T) {
	r := newRegistry()
	r.Register(&failingExt{})
	tracker := &allHooksExt{}
	r.Register(tracker)

	ctx := context.Background()

	// Must not panic, and must still reach later extensions.
	r.EmitOrderCreated(ctx, newTestOrder())
	r.EmitShutdown(ctx)

	if len(tracker.calls) != 2 {
		t.Errorf("tracker calls = %v, want both hooks delivered", tracker.calls)
	}
}

func TestRegistry_RegistrationOrderPreserved(t *testing.T) {
	r := newRegistry()
	a := &allHooksExt{}
	b := &orderOnlyExt{}
	r.Register(a)
	r.Register(b)

	exts := r.Extensions()
	if len(exts) != 2 || exts[0].Name() != "all-hooks" || exts[1].Name() != "order-only" {
		t.Errorf("extensions = %v", exts)
	}
}

package stage_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/notify"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/payment"
	"github.com/tidemark/orderflow/stage"
	"github.com/tidemark/orderflow/store/memory"
)

func newTestOrder() *order.Order {
	return order.New(
		order.Customer{ID: "cust-1", Email: "alice@example.com", Name: "Alice"},
		[]order.Item{{ProductID: "sku-1", Quantity: 2, UnitPrice: 10.00}},
		order.Address{Line1: "1 Main St", City: "Springfield", Country: "US"},
		"card",
		7*24*time.Hour,
	)
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

func TestForStatus(t *testing.T) {
	cases := []struct {
		status order.Status
		want   string
		ok     bool
	}{
		{order.StatusValidating, stage.Validate, true},
		{order.StatusCheckingInventory, stage.ReserveInventory, true},
		{order.StatusProcessingPayment, stage.CapturePayment, true},
		{order.StatusFulfilling, stage.Fulfill, true},
		{order.StatusNotifying, stage.Notify, true},
		{order.StatusCreated, "", false},
		{order.StatusCompleted, "", false},
	}
	for _, tc := range cases {
		got, ok := stage.ForStatus(tc.status)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ForStatus(%s) = %q, %v; want %q, %v", tc.status, got, ok, tc.want, tc.ok)
		}
	}
}

func TestValidator_AcceptsWellFormedOrder(t *testing.T) {
	res := stage.NewValidator().Execute(context.Background(), newTestOrder())
	if res.Status != stage.StatusSuccess {
		t.Fatalf("result = %+v, want success", res)
	}
}

func TestValidator_MalformedOrderIsPermanent(t *testing.T) {
	o := newTestOrder()
	o.Items = nil
	o.Customer.Email = ""

	res := stage.NewValidator().Execute(context.Background(), o)
	if res.Status != stage.StatusPermanentFailure {
		t.Fatalf("result = %+v, want permanent failure", res)
	}
	if !strings.Contains(res.Detail, "no items") {
		t.Errorf("detail = %q, want mention of missing items", res.Detail)
	}
}

func TestInventoryWorker_ReservesAndRecordsHolds(t *testing.T) {
	s := memory.New()
	seedProduct(t, s, "sku-1", 5)
	o := newTestOrder()

	res := stage.NewInventoryWorker(s).Execute(context.Background(), o)
	if res.Status != stage.StatusSuccess {
		t.Fatalf("result = %+v, want success", res)
	}
	if len(o.Reservations) != 1 {
		t.Fatalf("reservations on order = %d, want 1", len(o.Reservations))
	}
	if res.SideEffectToken != o.Reservations[0].String() {
		t.Errorf("token = %q, want reservation id %s", res.SideEffectToken, o.Reservations[0])
	}

	p, _ := s.GetProduct(context.Background(), "sku-1")
	if p.Available != 3 {
		t.Errorf("available = %d, want 3", p.Available)
	}
}

func TestInventoryWorker_InsufficientStockIsPermanent(t *testing.T) {
	s := memory.New()
	seedProduct(t, s, "sku-1", 1)
	o := newTestOrder() // wants 2

	res := stage.NewInventoryWorker(s).Execute(context.Background(), o)
	if res.Status != stage.StatusPermanentFailure {
		t.Fatalf("result = %+v, want permanent failure", res)
	}
	if res.Detail != "insufficient stock" {
		t.Errorf("detail = %q", res.Detail)
	}

	p, _ := s.GetProduct(context.Background(), "sku-1")
	if p.Available != 1 {
		t.Errorf("available = %d, want 1 (unchanged)", p.Available)
	}
}

func TestPaymentWorker_RecomputesTotalBeforeCapture(t *testing.T) {
	fake := payment.NewFake()
	o := newTestOrder()
	o.Total = 999.99 // tampered; items say 20.00

	res := stage.NewPaymentWorker(fake).Execute(context.Background(), o)
	if res.Status != stage.StatusSuccess {
		t.Fatalf("result = %+v, want success", res)
	}
	if o.Total != 20.00 {
		t.Errorf("total = %.2f, want 20.00", o.Total)
	}
	receipt := fake.ChargeFor(o.ID)
	if receipt == nil || receipt.Amount != 20.00 {
		t.Fatalf("charge = %+v, want amount 20.00", receipt)
	}
	if o.Payment.State != order.PaymentCaptured || o.Payment.ProcessorRef == "" {
		t.Errorf("payment = %+v, want captured with processor ref", o.Payment)
	}
}

func TestPaymentWorker_RetryNeverDoubleCharges(t *testing.T) {
	fake := payment.NewFake()
	o := newTestOrder()
	w := stage.NewPaymentWorker(fake)

	for i := 0; i < 3; i++ {
		if res := w.Execute(context.Background(), o); res.Status != stage.StatusSuccess {
			t.Fatalf("attempt %d: %+v", i, res)
		}
	}
	if fake.ChargeCount() != 1 {
		t.Errorf("charges = %d, want 1", fake.ChargeCount())
	}
}

func TestPaymentWorker_DeclineIsPermanent(t *testing.T) {
	fake := payment.NewFake()
	o := newTestOrder()
	fake.Decline(o.ID)

	res := stage.NewPaymentWorker(fake).Execute(context.Background(), o)
	if res.Status != stage.StatusPermanentFailure {
		t.Fatalf("result = %+v, want permanent failure", res)
	}
	if o.Payment.State != order.PaymentFailed {
		t.Errorf("payment state = %s, want %s", o.Payment.State, order.PaymentFailed)
	}
}

func TestPaymentWorker_ProcessorErrorIsTransient(t *testing.T) {
	fake := payment.NewFake()
	o := newTestOrder()
	fake.FailTimes(o.ID, 1)

	res := stage.NewPaymentWorker(fake).Execute(context.Background(), o)
	if res.Status != stage.StatusTransientFailure {
		t.Fatalf("result = %+v, want transient failure", res)
	}

	res = stage.NewPaymentWorker(fake).Execute(context.Background(), o)
	if res.Status != stage.StatusSuccess {
		t.Fatalf("retry result = %+v, want success", res)
	}
}

func TestFulfillmentWorker_ConsumesAndKeepsShipmentID(t *testing.T) {
	s := memory.New()
	seedProduct(t, s, "sku-1", 5)
	o := newTestOrder()
	ctx := context.Background()

	if res := stage.NewInventoryWorker(s).Execute(ctx, o); res.Status != stage.StatusSuccess {
		t.Fatalf("reserve: %+v", res)
	}

	w := stage.NewFulfillmentWorker(s)
	res := w.Execute(ctx, o)
	if res.Status != stage.StatusSuccess {
		t.Fatalf("result = %+v, want success", res)
	}
	if o.ShipmentID.IsNil() {
		t.Fatal("expected shipment id to be minted")
	}
	first := o.ShipmentID

	// A redelivered event reuses the shipment instead of minting another.
	if res := w.Execute(ctx, o); res.Status != stage.StatusSuccess {
		t.Fatalf("repeat: %+v", res)
	}
	if o.ShipmentID != first {
		t.Errorf("shipment id changed across attempts: %s vs %s", first, o.ShipmentID)
	}

	rs, _ := s.ListReservations(ctx, o.ID)
	if len(rs) != 1 || rs[0].State != inventory.ReservationConsumed {
		t.Errorf("reservations = %+v, want one CONSUMED", rs)
	}
}

func TestNotifierWorker_SendsToCustomer(t *testing.T) {
	fake := notify.NewFake()
	o := newTestOrder()

	res := stage.NewNotifierWorker(fake).Execute(context.Background(), o)
	if res.Status != stage.StatusSuccess {
		t.Fatalf("result = %+v, want success", res)
	}
	sent := fake.Sent()
	if len(sent) != 1 || sent[0].Email != "alice@example.com" {
		t.Fatalf("sent = %+v", sent)
	}
	if res.SideEffectToken == "" {
		t.Error("expected message id token")
	}
}

func TestNotifierWorker_DeliveryFailureIsTransient(t *testing.T) {
	fake := notify.NewFake()
	o := newTestOrder()
	fake.FailTimes(o.ID, -1)

	res := stage.NewNotifierWorker(fake).Execute(context.Background(), o)
	if res.Status != stage.StatusTransientFailure {
		t.Fatalf("result = %+v, want transient failure", res)
	}
}

func TestRegistry(t *testing.T) {
	r := stage.NewRegistry()
	r.Register(order.StatusValidating, stage.NewValidator())

	if _, ok := r.Get(order.StatusValidating); !ok {
		t.Fatal("expected registered worker")
	}
	if _, ok := r.Get(order.StatusNotifying); ok {
		t.Fatal("unexpected worker for unregistered status")
	}
	if got := r.Statuses(); len(got) != 1 || got[0] != order.StatusValidating {
		t.Errorf("statuses = %v", got)
	}
}

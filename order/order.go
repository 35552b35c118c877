// Package order defines the order record, its status state machine, and
// the persistence contract for the durable order store.
package order

import (
	"time"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/id"
)

// SchemaVersion is the current persisted record layout version. Stored on
// every record so stage additions stay forward-compatible.
const SchemaVersion = 1

// Customer identifies the person the order belongs to.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Address is the shipping destination for an order.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// Item is a single order line. ProductID is an external catalog
// identifier, not a TypeID.
type Item struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// PaymentState tracks the payment lifecycle on the order record.
type PaymentState string

const (
	PaymentPending  PaymentState = "PENDING"
	PaymentCaptured PaymentState = "CAPTURED"
	PaymentFailed   PaymentState = "FAILED"
	PaymentRefunded PaymentState = "REFUNDED"
)

// Payment holds the payment method and, once captured, the opaque
// processor reference returned by the capture backend.
type Payment struct {
	Method       string       `json:"method"`
	ProcessorRef string       `json:"processor_ref,omitempty"`
	State        PaymentState `json:"state"`
	Amount       float64      `json:"amount,omitempty"`
}

// Order is the durable order record. Every accepted mutation increments
// Version exactly once; all writes go through the store's conditional
// (compare-and-swap) write.
type Order struct {
	orderflow.Entity

	ID              id.OrderID   `json:"id"`
	SchemaVersion   int          `json:"schema_version"`
	Status          Status       `json:"status"`
	Customer        Customer     `json:"customer"`
	Items           []Item       `json:"items"`
	ShippingAddress Address      `json:"shipping_address"`
	Payment         Payment      `json:"payment"`
	Total           float64      `json:"total"`
	Version         int64        `json:"version"`

	// AttemptCounts tracks retry attempts per stage, keyed by stage name.
	// Kept on the record itself so attempt accounting survives restarts.
	AttemptCounts map[string]int `json:"attempt_counts,omitempty"`

	// RetryStatus is the working state to resume when a RETRY_PENDING
	// order becomes due.
	RetryStatus Status `json:"retry_status,omitempty"`

	// NextAttemptAt is when a RETRY_PENDING order may be retried.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// Reservations are the inventory holds currently attached to this
	// order, kept for compensation.
	Reservations []id.ReservationID `json:"reservations,omitempty"`

	// ShipmentID is set once fulfillment generates a shipment record.
	ShipmentID id.ShipmentID `json:"shipment_id,omitempty"`

	// FailureReason records why a terminal non-success state was reached.
	// Always queryable via the read API; no failure is silent.
	FailureReason string `json:"failure_reason,omitempty"`

	// NotificationFailed is set when the notifier exhausted its attempts
	// but the order still completed.
	NotificationFailed bool `json:"notification_failed,omitempty"`

	// TTL is the expiry epoch (seconds) for terminal records.
	TTL int64 `json:"ttl,omitempty"`
}

// New creates an order in CREATED state with a fresh ID and the current
// schema version. Total is computed from the items, never client-trusted.
func New(customer Customer, items []Item, addr Address, method string, ttl time.Duration) *Order {
	o := &Order{
		Entity:          orderflow.NewEntity(),
		ID:              id.NewOrderID(),
		SchemaVersion:   SchemaVersion,
		Status:          StatusCreated,
		Customer:        customer,
		Items:           items,
		ShippingAddress: addr,
		Payment:         Payment{Method: method, State: PaymentPending},
		Version:         1,
		AttemptCounts:   make(map[string]int),
	}
	o.Total = o.CalculateTotal()
	if ttl > 0 {
		o.TTL = time.Now().Add(ttl).Unix()
	}
	return o
}

// CalculateTotal sums the item subtotals. Callers recompute this before
// payment capture rather than trusting the stored value.
func (o *Order) CalculateTotal() float64 {
	var total float64
	for _, it := range o.Items {
		total += float64(it.Quantity) * it.UnitPrice
	}
	return total
}

// AttemptCount returns the recorded attempts for the named stage.
func (o *Order) AttemptCount(stage string) int {
	return o.AttemptCounts[stage]
}

// RecordAttempt increments the attempt counter for the named stage and
// returns the new count.
func (o *Order) RecordAttempt(stage string) int {
	if o.AttemptCounts == nil {
		o.AttemptCounts = make(map[string]int)
	}
	o.AttemptCounts[stage]++
	return o.AttemptCounts[stage]
}

// ResetAttempts clears the attempt counter for the named stage. Called
// when a stage finally succeeds so a later RETRY_PENDING pass starts fresh.
func (o *Order) ResetAttempts(stage string) {
	delete(o.AttemptCounts, stage)
}

// Terminal reports whether the order is in a terminal state.
func (o *Order) Terminal() bool {
	return IsTerminal(o.Status)
}

// Clone returns a deep copy of the order. Stores return clones so callers
// can mutate snapshots without racing the store's copy.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	cp.Reservations = append([]id.ReservationID(nil), o.Reservations...)
	if o.AttemptCounts != nil {
		cp.AttemptCounts = make(map[string]int, len(o.AttemptCounts))
		for k, v := range o.AttemptCounts {
			cp.AttemptCounts[k] = v
		}
	}
	if o.NextAttemptAt != nil {
		t := *o.NextAttemptAt
		cp.NextAttemptAt = &t
	}
	return &cp
}

package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/id"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/order"
)

// ── Order model ───────────────────────────────────────────────────

type orderModel struct {
	bun.BaseModel `bun:"table:orderflow_orders"`

	ID                 string         `bun:"id,pk"`
	SchemaVersion      int            `bun:"schema_version,notnull"`
	Status             string         `bun:"status,notnull"`
	Customer           order.Customer `bun:"customer,type:jsonb"`
	Items              []order.Item   `bun:"items,type:jsonb"`
	ShippingAddress    order.Address  `bun:"shipping_address,type:jsonb"`
	Payment            order.Payment  `bun:"payment,type:jsonb"`
	Total              float64        `bun:"total,notnull,default:0"`
	Version            int64          `bun:"version,notnull,default:1"`
	AttemptCounts      map[string]int `bun:"attempt_counts,type:jsonb"`
	RetryStatus        string         `bun:"retry_status"`
	NextAttemptAt      *time.Time     `bun:"next_attempt_at"`
	Reservations       []string       `bun:"reservations,type:jsonb"`
	ShipmentID         string         `bun:"shipment_id"`
	FailureReason      string         `bun:"failure_reason"`
	NotificationFailed bool           `bun:"notification_failed,notnull,default:false"`
	TTL                int64          `bun:"ttl,notnull,default:0"`
	CreatedAt          time.Time      `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt          time.Time      `bun:"updated_at,notnull,default:current_timestamp"`
}

func toOrderModel(o *order.Order) *orderModel {
	m := &orderModel{
		ID:                 o.ID.String(),
		SchemaVersion:      o.SchemaVersion,
		Status:             string(o.Status),
		Customer:           o.Customer,
		Items:              o.Items,
		ShippingAddress:    o.ShippingAddress,
		Payment:            o.Payment,
		Total:              o.Total,
		Version:            o.Version,
		AttemptCounts:      o.AttemptCounts,
		RetryStatus:        string(o.RetryStatus),
		NextAttemptAt:      o.NextAttemptAt,
		FailureReason:      o.FailureReason,
		NotificationFailed: o.NotificationFailed,
		TTL:                o.TTL,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	if !o.ShipmentID.IsNil() {
		m.ShipmentID = o.ShipmentID.String()
	}
	for _, r := range o.Reservations {
		m.Reservations = append(m.Reservations, r.String())
	}
	return m
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	parsedID, err := id.ParseOrderID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orderflow/bun: parse order id %q: %w", m.ID, err)
	}

	o := &order.Order{
		Entity: orderflow.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                 parsedID,
		SchemaVersion:      m.SchemaVersion,
		Status:             order.Status(m.Status),
		Customer:           m.Customer,
		Items:              m.Items,
		ShippingAddress:    m.ShippingAddress,
		Payment:            m.Payment,
		Total:              m.Total,
		Version:            m.Version,
		AttemptCounts:      m.AttemptCounts,
		RetryStatus:        order.Status(m.RetryStatus),
		NextAttemptAt:      m.NextAttemptAt,
		FailureReason:      m.FailureReason,
		NotificationFailed: m.NotificationFailed,
		TTL:                m.TTL,
	}
	if o.AttemptCounts == nil {
		o.AttemptCounts = make(map[string]int)
	}
	if m.ShipmentID != "" {
		shipID, sErr := id.Parse(m.ShipmentID)
		if sErr == nil {
			o.ShipmentID = shipID
		}
	}
	for _, r := range m.Reservations {
		rsvID, rErr := id.ParseReservationID(r)
		if rErr == nil {
			o.Reservations = append(o.Reservations, rsvID)
		}
	}
	return o, nil
}

// ── Product model ─────────────────────────────────────────────────

type productModel struct {
	bun.BaseModel `bun:"table:orderflow_products"`

	ProductID string    `bun:"product_id,pk"`
	Name      string    `bun:"name"`
	UnitPrice float64   `bun:"unit_price,notnull,default:0"`
	Available int       `bun:"available,notnull,default:0"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toProductModel(p *inventory.Product) *productModel {
	return &productModel{
		ProductID: p.ProductID,
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		Available: p.Available,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func fromProductModel(m *productModel) *inventory.Product {
	return &inventory.Product{
		Entity: orderflow.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ProductID: m.ProductID,
		Name:      m.Name,
		UnitPrice: m.UnitPrice,
		Available: m.Available,
	}
}

// ── Reservation model ─────────────────────────────────────────────

type reservationModel struct {
	bun.BaseModel `bun:"table:orderflow_reservations"`

	ID        string    `bun:"id,pk"`
	OrderID   string    `bun:"order_id,notnull"`
	ProductID string    `bun:"product_id,notnull"`
	Quantity  int       `bun:"quantity,notnull"`
	State     string    `bun:"state,notnull"`
	ExpiresAt time.Time `bun:"expires_at"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toReservationModel(r *inventory.Reservation) *reservationModel {
	return &reservationModel{
		ID:        r.ID.String(),
		OrderID:   r.OrderID.String(),
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		State:     string(r.State),
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func fromReservationModel(m *reservationModel) (*inventory.Reservation, error) {
	rsvID, err := id.ParseReservationID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orderflow/bun: parse reservation id %q: %w", m.ID, err)
	}
	orderID, err := id.ParseOrderID(m.OrderID)
	if err != nil {
		return nil, fmt.Errorf("orderflow/bun: parse reservation order id %q: %w", m.OrderID, err)
	}

	return &inventory.Reservation{
		Entity: orderflow.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        rsvID,
		OrderID:   orderID,
		ProductID: m.ProductID,
		Quantity:  m.Quantity,
		State:     inventory.ReservationState(m.State),
		ExpiresAt: m.ExpiresAt,
	}, nil
}

// ── DLQ model ─────────────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:orderflow_dlq"`

	ID             string     `bun:"id,pk"`
	EventID        string     `bun:"event_id,notnull"`
	OrderID        string     `bun:"order_id"`
	Partition      int        `bun:"partition,notnull,default:0"`
	Event          []byte     `bun:"event,notnull,type:bytea"`
	Error          string     `bun:"error"`
	Attempts       int        `bun:"attempts,notnull,default:0"`
	DeadLetteredAt time.Time  `bun:"dead_lettered_at,notnull"`
	ReplayedAt     *time.Time `bun:"replayed_at"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toDLQModel(e *dlq.Entry) *dlqEntryModel {
	m := &dlqEntryModel{
		ID:             e.ID.String(),
		EventID:        e.EventID.String(),
		Partition:      e.Partition,
		Event:          e.Event,
		Error:          e.Error,
		Attempts:       e.Attempts,
		DeadLetteredAt: e.DeadLetteredAt,
		ReplayedAt:     e.ReplayedAt,
		CreatedAt:      e.CreatedAt,
	}
	if !e.OrderID.IsNil() {
		m.OrderID = e.OrderID.String()
	}
	return m
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("orderflow/bun: parse dlq id %q: %w", m.ID, err)
	}

	e := &dlq.Entry{
		ID:             entryID,
		Partition:      m.Partition,
		Event:          m.Event,
		Error:          m.Error,
		Attempts:       m.Attempts,
		DeadLetteredAt: m.DeadLetteredAt,
		ReplayedAt:     m.ReplayedAt,
		CreatedAt:      m.CreatedAt,
	}
	if eventID, pErr := id.ParseEventID(m.EventID); pErr == nil {
		e.EventID = eventID
	}
	if m.OrderID != "" {
		if orderID, pErr := id.ParseOrderID(m.OrderID); pErr == nil {
			e.OrderID = orderID
		}
	}
	return e, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:orderflow_checkpoints"`

	Partition int       `bun:"partition,pk"`
	Token     string    `bun:"token,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

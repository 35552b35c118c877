package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/hook"
	"github.com/tidemark/orderflow/order"
)

// Compile-time interface checks.
var (
	_ hook.Extension           = (*Extension)(nil)
	_ hook.OrderCreated        = (*Extension)(nil)
	_ hook.StageCompleted      = (*Extension)(nil)
	_ hook.StageFailed         = (*Extension)(nil)
	_ hook.RetryScheduled      = (*Extension)(nil)
	_ hook.OrderCompleted      = (*Extension)(nil)
	_ hook.OrderCancelled      = (*Extension)(nil)
	_ hook.CompensationStarted = (*Extension)(nil)
	_ hook.EventDeadLettered   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so this package depends on no particular audit
// product — callers inject their concrete backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is the structured record emitted for each lifecycle event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges orderflow lifecycle events to an audit trail
// backend. Each hook emits a structured audit event through the
// [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements hook.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Order lifecycle hooks ───────────────────────────

// OnOrderCreated implements hook.OrderCreated.
func (e *Extension) OnOrderCreated(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderCreated, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryOrder, nil,
		"customer_id", o.Customer.ID,
		"total", o.Total,
		"item_count", len(o.Items),
	)
}

// OnStageCompleted implements hook.StageCompleted.
func (e *Extension) OnStageCompleted(ctx context.Context, o *order.Order, stageName string, elapsed time.Duration) error {
	return e.record(ctx, ActionStageCompleted, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryOrder, nil,
		"stage", stageName,
		"status", string(o.Status),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStageFailed implements hook.StageFailed.
func (e *Extension) OnStageFailed(ctx context.Context, o *order.Order, stageName string, detail string) error {
	return e.record(ctx, ActionStageFailed, SeverityWarning, OutcomeFailure,
		ResourceOrder, o.ID.String(), CategoryOrder, errors.New(detail),
		"stage", stageName,
		"attempt", o.AttemptCounts[stageName],
	)
}

// OnRetryScheduled implements hook.RetryScheduled.
func (e *Extension) OnRetryScheduled(ctx context.Context, o *order.Order, stageName string, attempt int, nextAttemptAt time.Time) error {
	return e.record(ctx, ActionRetryScheduled, SeverityWarning, OutcomeFailure,
		ResourceOrder, o.ID.String(), CategoryOrder, nil,
		"stage", stageName,
		"attempt", attempt,
		"next_attempt_at", nextAttemptAt.Format(time.RFC3339),
	)
}

// OnOrderCompleted implements hook.OrderCompleted.
func (e *Extension) OnOrderCompleted(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderCompleted, SeverityInfo, OutcomeSuccess,
		ResourceOrder, o.ID.String(), CategoryOrder, nil,
		"customer_id", o.Customer.ID,
		"total", o.Total,
		"shipment_id", o.ShipmentID.String(),
		"notification_failed", o.NotificationFailed,
	)
}

// OnOrderCancelled implements hook.OrderCancelled.
func (e *Extension) OnOrderCancelled(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderCancelled, SeverityCritical, OutcomeFailure,
		ResourceOrder, o.ID.String(), CategoryOrder, errors.New(o.FailureReason),
		"customer_id", o.Customer.ID,
		"total", o.Total,
	)
}

// OnCompensationStarted implements hook.CompensationStarted.
func (e *Extension) OnCompensationStarted(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionCompensationStarted, SeverityCritical, OutcomeFailure,
		ResourceOrder, o.ID.String(), CategoryOrder, errors.New(o.FailureReason),
		"payment_state", string(o.Payment.State),
		"reservation_count", len(o.Reservations),
	)
}

// ── DLQ hooks ───────────────────────────────────────

// OnEventDeadLettered implements hook.EventDeadLettered.
func (e *Extension) OnEventDeadLettered(ctx context.Context, entry *dlq.Entry) error {
	return e.record(ctx, ActionEventDeadLettered, SeverityCritical, OutcomeFailure,
		ResourceDLQEntry, entry.ID.String(), CategoryDLQ, errors.New(entry.Error),
		"order_id", entry.OrderID.String(),
		"event_id", entry.EventID.String(),
		"partition", entry.Partition,
		"attempts", entry.Attempts,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

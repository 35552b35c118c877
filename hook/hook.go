// Package hook defines the extension system for orderflow. Extensions
// are notified of lifecycle events (stage completed, order completed,
// event dead-lettered, etc.) and can react to them, typically for
// metrics, audit trails, or downstream integrations.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/order"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Order lifecycle hooks
// ──────────────────────────────────────────────────

// OrderCreated is called after an order is accepted into the pipeline.
type OrderCreated interface {
	OnOrderCreated(ctx context.Context, o *order.Order) error
}

// StageCompleted is called after a stage worker succeeds and the
// resulting transition has been persisted.
type StageCompleted interface {
	OnStageCompleted(ctx context.Context, o *order.Order, stageName string, elapsed time.Duration) error
}

// StageFailed is called when a stage attempt fails, whether or not a
// retry remains.
type StageFailed interface {
	OnStageFailed(ctx context.Context, o *order.Order, stageName string, detail string) error
}

// RetryScheduled is called when a failed stage is scheduled for retry.
type RetryScheduled interface {
	OnRetryScheduled(ctx context.Context, o *order.Order, stageName string, attempt int, nextAttemptAt time.Time) error
}

// OrderCompleted is called after an order reaches COMPLETED.
type OrderCompleted interface {
	OnOrderCompleted(ctx context.Context, o *order.Order) error
}

// OrderCancelled is called after an order reaches CANCELLED, whether by
// straight failure or after compensation.
type OrderCancelled interface {
	OnOrderCancelled(ctx context.Context, o *order.Order) error
}

// CompensationStarted is called when a failed order begins unwinding its
// side effects.
type CompensationStarted interface {
	OnCompensationStarted(ctx context.Context, o *order.Order) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// EventDeadLettered is called when a change event is parked in the DLQ.
type EventDeadLettered interface {
	OnEventDeadLettered(ctx context.Context, entry *dlq.Entry) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/order"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type orderCreatedEntry struct {
	name string
	hook OrderCreated
}

type stageCompletedEntry struct {
	name string
	hook StageCompleted
}

type stageFailedEntry struct {
	name string
	hook StageFailed
}

type retryScheduledEntry struct {
	name string
	hook RetryScheduled
}

type orderCompletedEntry struct {
	name string
	hook OrderCompleted
}

type orderCancelledEntry struct {
	name string
	hook OrderCancelled
}

type compensationStartedEntry struct {
	name string
	hook CompensationStarted
}

type eventDeadLetteredEntry struct {
	name string
	hook EventDeadLettered
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	orderCreated        []orderCreatedEntry
	stageCompleted      []stageCompletedEntry
	stageFailed         []stageFailedEntry
	retryScheduled      []retryScheduledEntry
	orderCompleted      []orderCompletedEntry
	orderCancelled      []orderCancelledEntry
	compensationStarted []compensationStartedEntry
	eventDeadLettered   []eventDeadLetteredEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(OrderCreated); ok {
		r.orderCreated = append(r.orderCreated, orderCreatedEntry{name, h})
	}
	if h, ok := e.(StageCompleted); ok {
		r.stageCompleted = append(r.stageCompleted, stageCompletedEntry{name, h})
	}
	if h, ok := e.(StageFailed); ok {
		r.stageFailed = append(r.stageFailed, stageFailedEntry{name, h})
	}
	if h, ok := e.(RetryScheduled); ok {
		r.retryScheduled = append(r.retryScheduled, retryScheduledEntry{name, h})
	}
	if h, ok := e.(OrderCompleted); ok {
		r.orderCompleted = append(r.orderCompleted, orderCompletedEntry{name, h})
	}
	if h, ok := e.(OrderCancelled); ok {
		r.orderCancelled = append(r.orderCancelled, orderCancelledEntry{name, h})
	}
	if h, ok := e.(CompensationStarted); ok {
		r.compensationStarted = append(r.compensationStarted, compensationStartedEntry{name, h})
	}
	if h, ok := e.(EventDeadLettered); ok {
		r.eventDeadLettered = append(r.eventDeadLettered, eventDeadLetteredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Order event emitters
// ──────────────────────────────────────────────────

// EmitOrderCreated notifies all extensions that implement OrderCreated.
func (r *Registry) EmitOrderCreated(ctx context.Context, o *order.Order) {
	for _, e := range r.orderCreated {
		if err := e.hook.OnOrderCreated(ctx, o); err != nil {
			r.logHookError("OnOrderCreated", e.name, err)
		}
	}
}

// EmitStageCompleted notifies all extensions that implement StageCompleted.
func (r *Registry) EmitStageCompleted(ctx context.Context, o *order.Order, stageName string, elapsed time.Duration) {
	for _, e := range r.stageCompleted {
		if err := e.hook.OnStageCompleted(ctx, o, stageName, elapsed); err != nil {
			r.logHookError("OnStageCompleted", e.name, err)
		}
	}
}

// EmitStageFailed notifies all extensions that implement StageFailed.
func (r *Registry) EmitStageFailed(ctx context.Context, o *order.Order, stageName string, detail string) {
	for _, e := range r.stageFailed {
		if err := e.hook.OnStageFailed(ctx, o, stageName, detail); err != nil {
			r.logHookError("OnStageFailed", e.name, err)
		}
	}
}

// EmitRetryScheduled notifies all extensions that implement RetryScheduled.
func (r *Registry) EmitRetryScheduled(ctx context.Context, o *order.Order, stageName string, attempt int, nextAttemptAt time.Time) {
	for _, e := range r.retryScheduled {
		if err := e.hook.OnRetryScheduled(ctx, o, stageName, attempt, nextAttemptAt); err != nil {
			r.logHookError("OnRetryScheduled", e.name, err)
		}
	}
}

// EmitOrderCompleted notifies all extensions that implement OrderCompleted.
func (r *Registry) EmitOrderCompleted(ctx context.Context, o *order.Order) {
	for _, e := range r.orderCompleted {
		if err := e.hook.OnOrderCompleted(ctx, o); err != nil {
			r.logHookError("OnOrderCompleted", e.name, err)
		}
	}
}

// EmitOrderCancelled notifies all extensions that implement OrderCancelled.
func (r *Registry) EmitOrderCancelled(ctx context.Context, o *order.Order) {
	for _, e := range r.orderCancelled {
		if err := e.hook.OnOrderCancelled(ctx, o); err != nil {
			r.logHookError("OnOrderCancelled", e.name, err)
		}
	}
}

// EmitCompensationStarted notifies all extensions that implement
// CompensationStarted.
func (r *Registry) EmitCompensationStarted(ctx context.Context, o *order.Order) {
	for _, e := range r.compensationStarted {
		if err := e.hook.OnCompensationStarted(ctx, o); err != nil {
			r.logHookError("OnCompensationStarted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitEventDeadLettered notifies all extensions that implement
// EventDeadLettered.
func (r *Registry) EmitEventDeadLettered(ctx context.Context, entry *dlq.Entry) {
	for _, e := range r.eventDeadLettered {
		if err := e.hook.OnEventDeadLettered(ctx, entry); err != nil {
			r.logHookError("OnEventDeadLettered", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

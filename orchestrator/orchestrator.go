// Package orchestrator contains the state-machine core: it consumes
// change events and drives orders through the fulfillment pipeline with
// one conditional write per handled event. All stage side effects are
// idempotent, so at-least-once delivery and optimistic-concurrency
// retries never double-charge or double-reserve.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidemark/orderflow"
	"github.com/tidemark/orderflow/dlq"
	"github.com/tidemark/orderflow/hook"
	"github.com/tidemark/orderflow/inventory"
	"github.com/tidemark/orderflow/middleware"
	"github.com/tidemark/orderflow/order"
	"github.com/tidemark/orderflow/payment"
	"github.com/tidemark/orderflow/retry"
	"github.com/tidemark/orderflow/stage"
	"github.com/tidemark/orderflow/stream"
)

// storeLagDelay is the redelivery delay used when an event's version is
// ahead of the stored order, which can happen briefly on a read replica.
const storeLagDelay = 100 * time.Millisecond

// Orchestrator handles one change event at a time: it re-reads the order,
// decides the next transition from the stored state, executes the stage
// worker if one is due, and persists the result with a single conditional
// write. That write emits the next change event, which keeps the order
// moving.
type Orchestrator struct {
	orders        order.Store
	inv           inventory.Store
	capturer      payment.Capturer
	registry      *stage.Registry
	policies      *retry.Policies
	dlqService    *dlq.Service
	hooks         *hook.Registry
	mw            middleware.Middleware
	logger        *slog.Logger
	maxCASRetries int
	deliveryBound int
}

// New creates an Orchestrator with the given dependencies.
func New(
	orders order.Store,
	inv inventory.Store,
	capturer payment.Capturer,
	registry *stage.Registry,
	policies *retry.Policies,
	dlqService *dlq.Service,
	hooks *hook.Registry,
	logger *slog.Logger,
	maxCASRetries int,
	mws ...middleware.Middleware,
) *Orchestrator {
	if maxCASRetries <= 0 {
		maxCASRetries = 3
	}
	return &Orchestrator{
		orders:        orders,
		inv:           inv,
		capturer:      capturer,
		registry:      registry,
		policies:      policies,
		dlqService:    dlqService,
		hooks:         hooks,
		mw:            middleware.Chain(mws...),
		logger:        logger,
		maxCASRetries: maxCASRetries,
		deliveryBound: retry.DefaultDeliveryBound,
	}
}

// SetDeliveryBound overrides the per-event delivery cap. Deliveries past
// the cap park the event in the DLQ.
func (h *Orchestrator) SetDeliveryBound(n int) {
	if n > 0 {
		h.deliveryBound = n
	}
}

// Handle processes one delivery of a change event. The returned Outcome
// tells the processor whether to ack or nack; a non-nil error always
// means nack.
func (h *Orchestrator) Handle(ctx context.Context, evt *stream.ChangeEvent, partition int) (Outcome, error) {
	if evt.OrderID.IsNil() {
		return h.deadLetter(ctx, evt, partition, orderflow.ErrMalformedEvent)
	}

	// A delivery count past the bound marks a poison event. Parking it
	// unwedges the partition.
	if evt.Attempt > h.deliveryBound {
		return h.deadLetter(ctx, evt, partition,
			fmt.Errorf("%w: %d deliveries", orderflow.ErrMaxAttemptsExceeded, evt.Attempt))
	}

	for i := 0; i < h.maxCASRetries; i++ {
		o, err := h.orders.GetOrder(ctx, evt.OrderID)
		if errors.Is(err, orderflow.ErrOrderNotFound) {
			// No amount of redelivery resurrects a missing order.
			return h.deadLetter(ctx, evt, partition, err)
		}
		if err != nil {
			return Outcome{}, err
		}

		if o.Terminal() {
			return Outcome{Code: OutcomeSkipped}, nil
		}
		if o.Version > evt.Version {
			// A later write already superseded this event.
			h.logger.Debug("stale change event dropped",
				slog.String("event_id", evt.ID.String()),
				slog.String("order_id", evt.OrderID.String()),
				slog.Int64("event_version", evt.Version),
				slog.Int64("order_version", o.Version))
			return Outcome{Code: OutcomeStale}, nil
		}
		if o.Version < evt.Version {
			return Outcome{Code: OutcomeRedeliver, Delay: storeLagDelay}, nil
		}

		outcome, err := h.step(ctx, o)
		if errors.Is(err, orderflow.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return Outcome{}, err
		}
		return outcome, nil
	}

	return Outcome{}, fmt.Errorf("%w: order %s", orderflow.ErrConcurrentModification, evt.OrderID)
}

// step decides and applies the single transition due for the order's
// current state.
func (h *Orchestrator) step(ctx context.Context, o *order.Order) (Outcome, error) {
	switch {
	case order.RequiresWorker(o.Status):
		return h.runStage(ctx, o)
	case o.Status == order.StatusRetryPending:
		return h.resumeRetry(ctx, o)
	case o.Status == order.StatusFailed:
		return h.routeFailure(ctx, o)
	case o.Status == order.StatusCompensating:
		return h.compensate(ctx, o)
	default:
		return h.dispatch(ctx, o)
	}
}

// dispatch advances an order resting between stages (CREATED and the
// *ED states) into the next working state. No side effects run here.
func (h *Orchestrator) dispatch(ctx context.Context, o *order.Order) (Outcome, error) {
	next, ok := order.Next(o.Status)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", orderflow.ErrInvalidTransition, o.Status)
	}
	if err := h.transition(ctx, o, next); err != nil {
		return Outcome{}, err
	}
	return Outcome{Code: OutcomeAdvanced}, nil
}

// runStage executes the worker for the order's working state through the
// middleware chain and persists the result.
func (h *Orchestrator) runStage(ctx context.Context, o *order.Order) (Outcome, error) {
	stageName, _ := stage.ForStatus(o.Status)
	worker, ok := h.registry.Get(o.Status)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", orderflow.ErrNoWorkerForStatus, o.Status)
	}

	start := time.Now()
	res := h.mw(ctx, o, stageName, func(ctx context.Context) stage.Result {
		return worker.Execute(ctx, o)
	})
	elapsed := time.Since(start)

	switch res.Status {
	case stage.StatusSuccess:
		o.ResetAttempts(stageName)
		next, _ := order.Next(o.Status)
		if err := h.transition(ctx, o, next); err != nil {
			return Outcome{}, err
		}
		h.hooks.EmitStageCompleted(ctx, o, stageName, elapsed)
		if o.Status == order.StatusCompleted {
			h.hooks.EmitOrderCompleted(ctx, o)
		}
		return Outcome{Code: OutcomeAdvanced}, nil

	case stage.StatusTransientFailure:
		h.hooks.EmitStageFailed(ctx, o, stageName, res.Detail)
		return h.handleTransient(ctx, o, stageName, res.Detail)

	default: // permanent
		h.hooks.EmitStageFailed(ctx, o, stageName, res.Detail)
		return h.leavePipeline(ctx, o, stageName, res.Detail)
	}
}

// handleTransient schedules a retry, or leaves the pipeline once the
// stage's attempt budget is spent.
func (h *Orchestrator) handleTransient(ctx context.Context, o *order.Order, stageName, detail string) (Outcome, error) {
	attempts := o.RecordAttempt(stageName)
	pol := h.policies.For(stageName)

	if pol.Exhausted(attempts) {
		return h.leavePipeline(ctx, o, stageName,
			fmt.Sprintf("%s: %d attempts exhausted: %s", stageName, attempts, detail))
	}

	delay := pol.NextDelay(attempts)
	due := time.Now().UTC().Add(delay)
	o.RetryStatus = o.Status
	o.NextAttemptAt = &due

	if err := h.transition(ctx, o, order.StatusRetryPending); err != nil {
		return Outcome{}, err
	}
	h.hooks.EmitRetryScheduled(ctx, o, stageName, attempts, due)
	h.logger.Info("stage retry scheduled",
		slog.String("order_id", o.ID.String()),
		slog.String("stage", stageName),
		slog.Int("attempt", attempts),
		slog.Duration("delay", delay),
	)
	return Outcome{Code: OutcomeRetryScheduled}, nil
}

// leavePipeline moves an order out of the forward pipeline after a
// permanent failure or an exhausted budget. A relaxed stage completes the
// order with a flag instead; anything else fails it, and the FAILED event
// routes compensation.
func (h *Orchestrator) leavePipeline(ctx context.Context, o *order.Order, stageName, reason string) (Outcome, error) {
	pol := h.policies.For(stageName)
	if pol.Relaxed {
		o.NotificationFailed = true
		o.FailureReason = reason
		if err := h.transition(ctx, o, order.StatusCompleted); err != nil {
			return Outcome{}, err
		}
		h.hooks.EmitOrderCompleted(ctx, o)
		h.logger.Warn("order completed without notification",
			slog.String("order_id", o.ID.String()),
			slog.String("reason", reason),
		)
		return Outcome{Code: OutcomeAdvanced}, nil
	}

	o.FailureReason = reason
	if err := h.transition(ctx, o, order.StatusFailed); err != nil {
		return Outcome{}, err
	}
	h.logger.Warn("order failed",
		slog.String("order_id", o.ID.String()),
		slog.String("stage", stageName),
		slog.String("reason", reason),
	)
	return Outcome{Code: OutcomeAdvanced}, nil
}

// resumeRetry puts a due RETRY_PENDING order back in its working state,
// or asks for redelivery when the backoff has not elapsed.
func (h *Orchestrator) resumeRetry(ctx context.Context, o *order.Order) (Outcome, error) {
	if o.NextAttemptAt != nil {
		if wait := time.Until(*o.NextAttemptAt); wait > 0 {
			return Outcome{Code: OutcomeRedeliver, Delay: wait}, nil
		}
	}

	target := o.RetryStatus
	if target == "" {
		return Outcome{}, fmt.Errorf("%w: RETRY_PENDING order %s has no retry status",
			orderflow.ErrInvalidTransition, o.ID)
	}
	o.RetryStatus = ""
	o.NextAttemptAt = nil
	if err := h.transition(ctx, o, target); err != nil {
		return Outcome{}, err
	}
	return Outcome{Code: OutcomeAdvanced}, nil
}

// routeFailure decides where a FAILED order settles: orders holding side
// effects unwind through COMPENSATING, the rest cancel directly.
func (h *Orchestrator) routeFailure(ctx context.Context, o *order.Order) (Outcome, error) {
	charged := o.Payment.State == order.PaymentCaptured
	if charged || len(o.Reservations) > 0 {
		if err := h.transition(ctx, o, order.StatusCompensating); err != nil {
			return Outcome{}, err
		}
		h.hooks.EmitCompensationStarted(ctx, o)
		return Outcome{Code: OutcomeAdvanced}, nil
	}
	return h.cancel(ctx, o)
}

// compensate unwinds side effects in reverse order of their creation:
// the charge is refunded before the inventory holds are released. Both
// operations are idempotent, so a partial unwind retries safely.
func (h *Orchestrator) compensate(ctx context.Context, o *order.Order) (Outcome, error) {
	if err := h.unwind(ctx, o); err != nil {
		h.hooks.EmitStageFailed(ctx, o, stage.Compensate, err.Error())
		return h.handleCompensationFailure(ctx, o, err)
	}
	o.ResetAttempts(stage.Compensate)
	return h.cancel(ctx, o)
}

func (h *Orchestrator) unwind(ctx context.Context, o *order.Order) error {
	if o.Payment.State == order.PaymentCaptured {
		if err := h.capturer.Refund(ctx, o.ID); err != nil {
			return fmt.Errorf("refund order %s: %w", o.ID, err)
		}
		o.Payment.State = order.PaymentRefunded
	}
	if len(o.Reservations) > 0 {
		if err := h.inv.ReleaseForOrder(ctx, o.ID); err != nil {
			return fmt.Errorf("release holds for order %s: %w", o.ID, err)
		}
	}
	return nil
}

// handleCompensationFailure retries the unwind with backoff. When the
// budget is spent the order stays in COMPENSATING and the event parks in
// the DLQ for an operator: auto-cancelling with live side effects would
// strand a charge.
func (h *Orchestrator) handleCompensationFailure(ctx context.Context, o *order.Order, cause error) (Outcome, error) {
	attempts := o.RecordAttempt(stage.Compensate)
	pol := h.policies.For(stage.Compensate)

	if pol.Exhausted(attempts) {
		return Outcome{}, fmt.Errorf("%w: compensation for order %s: %v",
			orderflow.ErrMaxAttemptsExceeded, o.ID, cause)
	}

	delay := pol.NextDelay(attempts)
	due := time.Now().UTC().Add(delay)
	o.RetryStatus = order.StatusCompensating
	o.NextAttemptAt = &due
	if err := h.transition(ctx, o, order.StatusRetryPending); err != nil {
		return Outcome{}, err
	}
	h.hooks.EmitRetryScheduled(ctx, o, stage.Compensate, attempts, due)
	return Outcome{Code: OutcomeRetryScheduled}, nil
}

// cancel settles the order in CANCELLED.
func (h *Orchestrator) cancel(ctx context.Context, o *order.Order) (Outcome, error) {
	if err := h.transition(ctx, o, order.StatusCancelled); err != nil {
		return Outcome{}, err
	}
	h.hooks.EmitOrderCancelled(ctx, o)
	return Outcome{Code: OutcomeAdvanced}, nil
}

// transition validates the edge, bumps the version, and performs the
// event's single conditional write.
func (h *Orchestrator) transition(ctx context.Context, o *order.Order, to order.Status) error {
	if !order.CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", orderflow.ErrInvalidTransition, o.Status, to)
	}
	expected := o.Version
	o.Status = to
	o.Version++
	return h.orders.PutOrderIfVersion(ctx, o, expected)
}

// deadLetter parks an event and acknowledges it.
func (h *Orchestrator) deadLetter(ctx context.Context, evt *stream.ChangeEvent, partition int, cause error) (Outcome, error) {
	entry, err := h.dlqService.Push(ctx, evt, partition, cause)
	if err != nil {
		// Pushing failed; keep the event in the stream instead of
		// dropping it.
		return Outcome{}, err
	}
	h.hooks.EmitEventDeadLettered(ctx, entry)
	h.logger.Error("change event dead-lettered",
		slog.String("event_id", evt.ID.String()),
		slog.String("order_id", evt.OrderID.String()),
		slog.Int("partition", partition),
		slog.Int("deliveries", evt.Attempt),
		slog.String("error", cause.Error()),
	)
	return Outcome{Code: OutcomeDeadLettered}, nil
}

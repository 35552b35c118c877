// Package stage defines the contract for the five order-processing stages
// and their concrete workers. A worker is invoked with the current order
// snapshot, performs its one unit of work, and reports success or a
// transient/permanent failure. Workers never retry internally — all retry
// policy lives in the orchestrator so attempt accounting stays centralized
// and durable.
package stage

import (
	"context"

	"github.com/tidemark/orderflow/order"
)

// Stage names, used as attempt-counter keys and in logs and metrics.
const (
	Validate         = "validate"
	ReserveInventory = "reserve_inventory"
	CapturePayment   = "capture_payment"
	Fulfill          = "fulfill"
	Notify           = "notify"

	// Compensate is not a pipeline stage; it names the unwind pass so
	// its attempts are accounted like any other stage's.
	Compensate = "compensate"
)

// ForStatus returns the stage that must run while an order is in the
// given working state.
func ForStatus(s order.Status) (string, bool) {
	switch s {
	case order.StatusValidating:
		return Validate, true
	case order.StatusCheckingInventory:
		return ReserveInventory, true
	case order.StatusProcessingPayment:
		return CapturePayment, true
	case order.StatusFulfilling:
		return Fulfill, true
	case order.StatusNotifying:
		return Notify, true
	default:
		return "", false
	}
}

// ResultStatus classifies a stage outcome.
type ResultStatus string

const (
	// StatusSuccess means the stage completed and the order may advance.
	StatusSuccess ResultStatus = "SUCCESS"
	// StatusTransientFailure means the stage failed in a way worth
	// retrying with backoff.
	StatusTransientFailure ResultStatus = "TRANSIENT_FAILURE"
	// StatusPermanentFailure means retrying cannot help; the order routes
	// to the failure branch.
	StatusPermanentFailure ResultStatus = "PERMANENT_FAILURE"
)

// Result is the outcome of one stage invocation. SideEffectToken carries
// the opaque identifier of any external effect (processor reference,
// reservation IDs, shipment ID, message ID) for observability.
type Result struct {
	Status          ResultStatus
	Detail          string
	SideEffectToken string
}

// OK builds a success result.
func OK(detail, token string) Result {
	return Result{Status: StatusSuccess, Detail: detail, SideEffectToken: token}
}

// Transient builds a retryable failure result from an error.
func Transient(err error) Result {
	return Result{Status: StatusTransientFailure, Detail: err.Error()}
}

// Permanent builds a non-retryable failure result.
func Permanent(detail string) Result {
	return Result{Status: StatusPermanentFailure, Detail: detail}
}

// Worker executes one stage against an order snapshot. The worker may set
// its result fields on the snapshot (processor reference, reservation IDs,
// shipment ID); the orchestrator persists the mutated snapshot with a
// conditional write, so a lost race discards the mutations along with the
// write. Every external effect must be idempotent keyed on the order ID,
// because at-least-once delivery will re-invoke workers.
type Worker interface {
	// Name returns the stage name.
	Name() string

	// Execute runs the stage. Blocking calls must honor ctx; the
	// orchestrator invokes workers under a bounded timeout.
	Execute(ctx context.Context, o *order.Order) Result
}

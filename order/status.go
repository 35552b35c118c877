package order

// Status represents the position of an order in the fulfillment pipeline.
type Status string

const (
	// Pipeline states, in forward order.
	StatusCreated           Status = "CREATED"
	StatusValidating        Status = "VALIDATING"
	StatusValidated         Status = "VALIDATED"
	StatusCheckingInventory Status = "CHECKING_INVENTORY"
	StatusInventoryReserved Status = "INVENTORY_RESERVED"
	StatusProcessingPayment Status = "PROCESSING_PAYMENT"
	StatusPaymentCaptured   Status = "PAYMENT_CAPTURED"
	StatusFulfilling        Status = "FULFILLING"
	StatusFulfilled         Status = "FULFILLED"
	StatusNotifying         Status = "NOTIFYING"
	StatusCompleted         Status = "COMPLETED"

	// Failure branch states.
	StatusRetryPending Status = "RETRY_PENDING"
	StatusFailed       Status = "FAILED"
	StatusCompensating Status = "COMPENSATING"
	StatusCancelled    Status = "CANCELLED"
)

// successor is the forward pipeline edge for each non-terminal pipeline
// state. Dispatch edges (CREATED→VALIDATING and the *ED→*ING hops) need no
// stage worker; working-state edges (VALIDATING→VALIDATED etc.) are taken
// only after the corresponding stage succeeds.
var successor = map[Status]Status{
	StatusCreated:           StatusValidating,
	StatusValidating:        StatusValidated,
	StatusValidated:         StatusCheckingInventory,
	StatusCheckingInventory: StatusInventoryReserved,
	StatusInventoryReserved: StatusProcessingPayment,
	StatusProcessingPayment: StatusPaymentCaptured,
	StatusPaymentCaptured:   StatusFulfilling,
	StatusFulfilling:        StatusFulfilled,
	StatusFulfilled:         StatusNotifying,
	StatusNotifying:         StatusCompleted,
}

// workingStates are the states in which a stage worker must run before the
// order can advance.
var workingStates = map[Status]struct{}{
	StatusValidating:        {},
	StatusCheckingInventory: {},
	StatusProcessingPayment: {},
	StatusFulfilling:        {},
	StatusNotifying:         {},
}

// Next returns the forward pipeline successor of s. The second return is
// false when s has no forward edge (terminal and failure-branch states).
func Next(s Status) (Status, bool) {
	n, ok := successor[s]
	return n, ok
}

// RequiresWorker reports whether a stage worker must succeed before the
// order can leave state s.
func RequiresWorker(s Status) bool {
	_, ok := workingStates[s]
	return ok
}

// IsTerminal reports whether s is a terminal state. Terminal orders ignore
// all further change events.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsPipeline reports whether s is on the forward pipeline (as opposed to a
// failure-branch state).
func IsPipeline(s Status) bool {
	if s == StatusCompleted {
		return true
	}
	_, ok := successor[s]
	return ok
}

// CanTransition reports whether the edge from → to exists in the state
// machine. Forward edges follow the pipeline; failure edges allow any
// non-terminal state to divert to RETRY_PENDING, FAILED, or COMPENSATING,
// and those to settle in CANCELLED. RETRY_PENDING may resume to any
// working state. NOTIFYING→COMPLETED additionally covers the relaxed
// notifier policy (notification failure never blocks completion).
func CanTransition(from, to Status) bool {
	if IsTerminal(from) {
		return false
	}

	if n, ok := successor[from]; ok && n == to {
		return true
	}

	switch to {
	case StatusRetryPending:
		return RequiresWorker(from) || from == StatusCompensating
	case StatusFailed, StatusCompensating:
		return from != StatusRetryPending
	case StatusCancelled:
		return from == StatusFailed || from == StatusCompensating
	}

	// Retry resumption back into the stage that failed.
	if from == StatusRetryPending {
		return RequiresWorker(to) || to == StatusCompensating
	}

	return false
}

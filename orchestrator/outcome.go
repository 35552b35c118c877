package orchestrator

import "time"

// OutcomeCode classifies what handling a change event did.
type OutcomeCode string

const (
	// OutcomeAdvanced means the order moved to a new state and the write
	// was accepted.
	OutcomeAdvanced OutcomeCode = "ADVANCED"

	// OutcomeStale means the stored order had already moved past the
	// event. The event is acknowledged without any write.
	OutcomeStale OutcomeCode = "STALE"

	// OutcomeSkipped means the order is terminal and ignores all further
	// events.
	OutcomeSkipped OutcomeCode = "SKIPPED"

	// OutcomeRetryScheduled means a stage failed transiently and the
	// order was parked in RETRY_PENDING with a backoff.
	OutcomeRetryScheduled OutcomeCode = "RETRY_SCHEDULED"

	// OutcomeRedeliver means the event is not actionable yet and must be
	// redelivered after Delay. The processor nacks it.
	OutcomeRedeliver OutcomeCode = "REDELIVER"

	// OutcomeDeadLettered means the event was parked in the DLQ and must
	// be acknowledged so it stops wedging its partition.
	OutcomeDeadLettered OutcomeCode = "DEAD_LETTERED"
)

// Outcome reports how a change event was handled. The processor uses it
// to decide between Ack and Nack.
type Outcome struct {
	Code OutcomeCode

	// Delay is the redelivery delay for OutcomeRedeliver.
	Delay time.Duration
}

// Redeliver reports whether the event needs another delivery.
func (o Outcome) Redeliver() bool { return o.Code == OutcomeRedeliver }

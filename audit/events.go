package audit

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionOrderCreated        = "order.created"
	ActionStageCompleted      = "order.stage_completed"
	ActionStageFailed         = "order.stage_failed"
	ActionRetryScheduled      = "order.retry_scheduled"
	ActionOrderCompleted      = "order.completed"
	ActionOrderCancelled      = "order.cancelled"
	ActionCompensationStarted = "order.compensation_started"
	ActionEventDeadLettered   = "event.dead_lettered"
)

// Audit event categories group related actions.
const (
	CategoryOrder = "orderflow.order"
	CategoryDLQ   = "orderflow.dlq"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceOrder    = "order"
	ResourceDLQEntry = "dlq_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionOrderCreated,
		ActionStageCompleted,
		ActionStageFailed,
		ActionRetryScheduled,
		ActionOrderCompleted,
		ActionOrderCancelled,
		ActionCompensationStarted,
		ActionEventDeadLettered,
	}
}

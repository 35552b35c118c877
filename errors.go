package orderflow

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("orderflow: no store configured")
	ErrStoreClosed     = errors.New("orderflow: store closed")
	ErrMigrationFailed = errors.New("orderflow: migration failed")

	// Not found errors.
	ErrOrderNotFound       = errors.New("orderflow: order not found")
	ErrProductNotFound     = errors.New("orderflow: product not found")
	ErrReservationNotFound = errors.New("orderflow: reservation not found")
	ErrDLQNotFound         = errors.New("orderflow: dlq entry not found")

	// Conflict errors.
	ErrOrderAlreadyExists = errors.New("orderflow: order already exists")
	ErrVersionConflict    = errors.New("orderflow: version conflict")

	// Event handling errors.
	ErrStaleEvent             = errors.New("orderflow: stale change event")
	ErrMalformedEvent         = errors.New("orderflow: malformed change event")
	ErrConcurrentModification = errors.New("orderflow: concurrent modification")

	// State errors.
	ErrInvalidTransition   = errors.New("orderflow: invalid status transition")
	ErrMaxAttemptsExceeded = errors.New("orderflow: max attempts exceeded")
	ErrNoWorkerForStatus   = errors.New("orderflow: no stage worker for status")

	// Inventory errors.
	ErrInsufficientStock = errors.New("orderflow: insufficient stock")
)

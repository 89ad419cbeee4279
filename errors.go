package asyncexec

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("asyncexec: no store configured")
	ErrStoreClosed = errors.New("asyncexec: store closed")
	ErrTxDone      = errors.New("asyncexec: transaction already finished")

	// Not found errors.
	ErrJobNotFound = errors.New("asyncexec: job not found")

	// Conflict errors. ErrOptimisticLock means another node or goroutine
	// changed the row first; callers treat it as a lost race.
	ErrOptimisticLock   = errors.New("asyncexec: optimistic lock conflict")
	ErrJobAlreadyExists = errors.New("asyncexec: job already exists")

	// Precondition errors.
	ErrNilJob        = errors.New("asyncexec: job is nil")
	ErrInvalidKind   = errors.New("asyncexec: operation not valid for job kind")
	ErrNoHandler     = errors.New("asyncexec: no handler registered for handler type")
	ErrInvalidConfig = errors.New("asyncexec: invalid configuration")

	// Timer errors.
	ErrInvalidTimerExpression = errors.New("asyncexec: invalid timer expression")

	// ErrShutdownTimeout is returned when running jobs did not finish
	// within the shutdown timeout. Their locks expire and the reset loop
	// of another node returns them to the pool.
	ErrShutdownTimeout = errors.New("asyncexec: shutdown timed out")
)

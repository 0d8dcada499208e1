package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrRateLimitExceeded = errors.New("too many active runs")
	ErrInvalidState      = errors.New("run is not in a valid state for this operation")
	ErrInternal          = errors.New("internal error")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrStreamLimit       = errors.New("too many open event streams")

	// Infrastructure-level errors surfaced by repositories
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrQueueEmpty         = errors.New("queue is empty")
)

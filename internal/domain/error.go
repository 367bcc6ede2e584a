package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Job lifecycle errors
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrOrphanedJob       = errors.New("job created but not enqueued")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrSinkFailed        = errors.New("artifact write failed")
	ErrQueueEmpty        = errors.New("no work item available")
	ErrQueueClosed       = errors.New("work queue closed")
)

package progress

import "errors"

// Validation errors.
var (
	ErrEmptyTaskID       = errors.New("task_id is required")
	ErrInvalidPercentage = errors.New("percentage must be within [0,1]")
)

// Lifecycle errors.
var (
	ErrClosed = errors.New("aggregator is closed")
)

package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrValidation      = errors.New("validation failed")

	// Reasoning service failures. Retryable inside the batch retry envelope.
	ErrRateLimited = errors.New("reasoning service rate limit exceeded")
	ErrTransient   = errors.New("reasoning service transient failure")

	// ErrFatalJob marks failures that must escape the retry envelope and fail the job.
	ErrFatalJob           = errors.New("fatal job error")
	ErrNoAvailableTargets = errors.New("none of the requested targets are available")
	ErrInterrupted        = errors.New("job interrupted")
)

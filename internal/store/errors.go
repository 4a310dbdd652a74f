package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrJobNotFound is returned when a requested job does not exist in
	// the state the operation requires. A lost claim race surfaces as
	// this error and is non-fatal to the consumer.
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned when enqueueing a job whose id already
	// exists in any of the four states.
	ErrDuplicateJob = errors.New("job already exists")

	// ErrInvalidOutcome is returned when Complete is called with a status
	// other than completed or failed.
	ErrInvalidOutcome = errors.New("invalid outcome status")

	// ErrQueueUnavailable is returned when the queue root or one of its
	// state directories cannot be created or read. This is a fatal,
	// consumer-level error: no job state has been touched when it occurs.
	ErrQueueUnavailable = errors.New("queue storage unavailable")
)

// IsFatal reports whether the error indicates broken queue infrastructure
// rather than a problem with an individual job.
func IsFatal(err error) bool {
	return errors.Is(err, ErrQueueUnavailable)
}

// StoreError is a custom error type for store-specific errors with
// additional context.
type StoreError struct {
	JobID     string // The job the operation targeted, if any
	Operation string // The operation that failed (e.g., "claim", "complete")
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s failed for job %s: %v", e.Operation, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given job id, operation,
// and wrapped error.
func NewStoreError(jobID, operation string, err error) *StoreError {
	return &StoreError{
		JobID:     jobID,
		Operation: operation,
		Err:       err,
	}
}

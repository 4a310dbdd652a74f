// Package domain defines the core entities of the analysis queue and their errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrMalformedJob is returned when a job record cannot be decoded or
	// fails schema validation. Jobs with this error are routed to the
	// failed state without ever being claimed.
	ErrMalformedJob = errors.New("malformed job record")

	// ErrJobIDEmpty is returned when a job record has no id.
	ErrJobIDEmpty = errors.New("job ID cannot be empty")

	// ErrJobQueueTimeZero is returned when a job record has no queue time.
	ErrJobQueueTimeZero = errors.New("job queue time cannot be zero")

	// ErrJobStatusInvalid is returned when a runtime status is not one of
	// the four known values.
	ErrJobStatusInvalid = errors.New("invalid job status")

	// ErrJobTimeoutNegative is returned when timeout_seconds is negative.
	ErrJobTimeoutNegative = errors.New("job timeout cannot be negative")

	// ErrEncryptedFieldInvalid is returned when a value tagged
	// encrypted:true is missing its data, salt or nonce.
	ErrEncryptedFieldInvalid = errors.New("invalid encrypted field")
)

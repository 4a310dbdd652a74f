package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// JobStatus represents the execution state of a job.
type JobStatus string

// Possible job status values. Each value corresponds to exactly one state
// directory in the queue; the status stored in a record must always agree
// with the directory the record resides in.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// validate checks the struct-tag level schema of job records.
var validate = validator.New()

// JobConfig is the immutable input block of a job record. It is written
// once at enqueue time and never mutated afterwards.
type JobConfig struct {
	JobID            string                  `json:"job_id"            validate:"required"`
	QueueTime        time.Time               `json:"queue_time"        validate:"required"`
	WorkingDirectory string                  `json:"working_directory"`
	TimeoutSeconds   *int                    `json:"timeout_seconds"`
	Environment      map[string]string       `json:"environment"`
	Data             map[string]PayloadValue `json:"data"`
}

// JobRuntime is the mutable execution block of a job record. Only these
// fields change as a job moves through the queue.
type JobRuntime struct {
	Status     JobStatus       `json:"status"`
	StartTime  *time.Time      `json:"start_time"`
	FinishTime *time.Time      `json:"finish_time"`
	ProcessID  *int            `json:"process_id"`
	Error      *string         `json:"error"`
	ExitCode   *int            `json:"exit_code"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// JobRecord is the persistent representation of one unit of analysis work.
type JobRecord struct {
	Config  JobConfig  `json:"config"`
	Runtime JobRuntime `json:"runtime"`
}

// NewJobRecord creates a queued JobRecord with a fresh UUID, the current
// queue time, and an empty runtime block.
// Returns an error if validation fails.
func NewJobRecord(
	workingDir string,
	timeoutSeconds *int,
	env map[string]string,
	data map[string]PayloadValue,
) (*JobRecord, error) {
	record := &JobRecord{
		Config: JobConfig{
			JobID:            uuid.New().String(),
			QueueTime:        time.Now().UTC(),
			WorkingDirectory: workingDir,
			TimeoutSeconds:   timeoutSeconds,
			Environment:      env,
			Data:             data,
		},
		Runtime: JobRuntime{
			Status: JobStatusQueued,
		},
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Validate checks that the record satisfies the on-disk schema.
// Returns an error wrapping ErrMalformedJob if any field fails validation.
func (r *JobRecord) Validate() error {
	if r.Config.JobID == "" {
		return fmt.Errorf("%w: %w", ErrMalformedJob, ErrJobIDEmpty)
	}

	if r.Config.QueueTime.IsZero() {
		return fmt.Errorf("%w: %w", ErrMalformedJob, ErrJobQueueTimeZero)
	}

	if r.Config.TimeoutSeconds != nil && *r.Config.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: %w", ErrMalformedJob, ErrJobTimeoutNegative)
	}

	if !isValidJobStatus(r.Runtime.Status) {
		return fmt.Errorf("%w: %w: %q", ErrMalformedJob, ErrJobStatusInvalid, r.Runtime.Status)
	}

	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	return nil
}

// Timeout returns the configured subprocess timeout, or zero if none is set.
func (r *JobRecord) Timeout() time.Duration {
	if r.Config.TimeoutSeconds == nil || *r.Config.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(*r.Config.TimeoutSeconds) * time.Second
}

// ParseJobRecord decodes and validates an on-disk job record document.
// Decode and validation failures are wrapped with ErrMalformedJob; such
// records are routed to the failed state rather than retried.
func ParseJobRecord(data []byte) (*JobRecord, error) {
	var record JobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return &record, nil
}

// Encode serializes the record to its on-disk JSON form.
func (r *JobRecord) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode job record: %w", err)
	}
	return append(data, '\n'), nil
}

// isValidJobStatus checks if the given status is a valid JobStatus.
func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

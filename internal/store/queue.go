// Package store defines the persistence interfaces for job records.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mailsift/mailsift/internal/domain"
)

// Outcome carries the terminal runtime state merged into a job record when
// it leaves the running state.
type Outcome struct {
	// Status must be JobStatusCompleted or JobStatusFailed.
	Status domain.JobStatus

	// FinishTime is when processing ended.
	FinishTime time.Time

	// ExitCode is the analyzer's exit code, if a subprocess ran.
	ExitCode *int

	// Error is the diagnostic message for failed jobs. It must already be
	// redacted; the store persists it verbatim.
	Error *string

	// Result is the parsed analyzer output attached to completed jobs.
	Result json.RawMessage
}

// JobStore is the interface for the queue's four-state persistence layer.
// Implementations must make every state transition a single atomic move so
// that a crash between steps can never duplicate or lose a record, and so
// that racing consumers resolve a contested claim with exactly one winner.
type JobStore interface {
	// Enqueue writes a new record into the queued state.
	// Returns ErrDuplicateJob if the id exists in any state.
	Enqueue(ctx context.Context, record *domain.JobRecord) error

	// ListQueued returns the ids currently in the queued state, in a
	// stable implementation-defined order.
	ListQueued(ctx context.Context) ([]string, error)

	// Claim atomically moves a record from queued to running, stamping
	// start time and process id. Returns ErrJobNotFound if the record is
	// not queued, including when a concurrent consumer won the claim.
	// Returns domain.ErrMalformedJob without claiming when the record
	// cannot be decoded.
	Claim(ctx context.Context, id string) (*domain.JobRecord, error)

	// Complete moves a record from running to finished or failed,
	// merging the outcome into its runtime block.
	Complete(ctx context.Context, id string, outcome Outcome) error

	// Restore moves a record from running back to queued, clearing the
	// runtime block. Used by dry-run and by manual crash recovery.
	Restore(ctx context.Context, id string) error

	// FailQueued moves a record directly from queued to failed, recording
	// the given message. Used for structurally invalid records that must
	// never enter the running state.
	FailQueued(ctx context.Context, id string, message string) error

	// Get loads a record from whichever state currently holds it.
	Get(ctx context.Context, id string) (*domain.JobRecord, domain.JobStatus, error)
}

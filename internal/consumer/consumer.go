// Package consumer implements the worker loop that drives queued jobs
// through decrypt, analyze, and completion.
//
// The consumer is single-threaded and sequential: one job is fully
// processed before the next begins. Errors belonging to an individual job
// are recorded into that job's runtime block and never abort the loop;
// only queue-infrastructure errors propagate.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mailsift/mailsift/internal/analysis"
	"github.com/mailsift/mailsift/internal/domain"
	"github.com/mailsift/mailsift/internal/redact"
	"github.com/mailsift/mailsift/internal/store"
)

// ErrDryRunAll is returned when dry-run is combined with drain-all; dry-run
// applies to exactly one job.
var ErrDryRunAll = errors.New("dry-run cannot be combined with drain-all")

// Summary accumulates the outcome counts of one consumer invocation.
type Summary struct {
	// Processed counts jobs that were claimed and driven to a decision,
	// including dry-runs.
	Processed int

	// Succeeded counts jobs that reached the finished state, plus
	// successful dry-run preparations.
	Succeeded int

	// Failed counts jobs that reached the failed state.
	Failed int

	// Skipped counts claim races lost to a concurrent consumer.
	Skipped int
}

// ExitCode maps the summary to the process exit code: 0 when nothing
// failed, 1 when at least one job failed. Fatal consumer errors exit with
// code 2 and are handled by the caller.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Consumer pulls job records from the store and processes them one at a
// time.
type Consumer struct {
	store  store.JobStore
	runner analysis.Runner
	logger *slog.Logger
	dryRun bool
}

// New creates a Consumer. With dryRun set, jobs are prepared but never
// executed, and are restored to the queued state afterwards.
func New(jobStore store.JobStore, runner analysis.Runner, logger *slog.Logger, dryRun bool) *Consumer {
	return &Consumer{
		store:  jobStore,
		runner: runner,
		logger: logger,
		dryRun: dryRun,
	}
}

// ProcessNext claims and processes the first available queued job. It is a
// no-op when the queue is empty. Candidates lost to a racing consumer are
// skipped and the next one is tried.
func (c *Consumer) ProcessNext(ctx context.Context) (Summary, error) {
	var summary Summary

	ids, err := c.store.ListQueued(ctx)
	if err != nil {
		return summary, err
	}

	if len(ids) == 0 {
		c.logger.Info("queue is empty, nothing to process")
		return summary, nil
	}

	for _, id := range ids {
		if err := c.processOne(ctx, id, &summary); err != nil {
			return summary, err
		}
		if summary.Processed > 0 {
			break
		}
	}

	return summary, nil
}

// ProcessJob claims and processes exactly the named job. Returns
// store.ErrJobNotFound when the job is not currently queued, including
// when a concurrent consumer claimed it first.
func (c *Consumer) ProcessJob(ctx context.Context, id string) (Summary, error) {
	var summary Summary

	if err := c.processOne(ctx, id, &summary); err != nil {
		return summary, err
	}

	if summary.Processed == 0 && summary.Failed == 0 {
		return summary, store.NewStoreError(id, "process", store.ErrJobNotFound)
	}

	return summary, nil
}

// ProcessAll drains the queue: it repeatedly claims and processes jobs
// until a fresh listing at the start of an iteration comes back empty.
// Jobs enqueued concurrently during the drain are not guaranteed to be
// picked up by this call.
func (c *Consumer) ProcessAll(ctx context.Context) (Summary, error) {
	var summary Summary

	if c.dryRun {
		return summary, ErrDryRunAll
	}

	for {
		ids, err := c.store.ListQueued(ctx)
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			if err := c.processOne(ctx, id, &summary); err != nil {
				return summary, err
			}
		}
	}

	c.logger.Info("queue drained",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	return summary, nil
}

// processOne drives a single job through its full lifecycle. Per-job
// failures are recorded in the summary and in the job's runtime block; the
// returned error is non-nil only for fatal infrastructure problems.
func (c *Consumer) processOne(ctx context.Context, id string, summary *Summary) error {
	logger := c.logger.With("job_id", id)

	record, err := c.store.Claim(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMalformedJob):
			// Structurally invalid records go straight to failed and
			// never enter the running state.
			return c.failWithoutClaim(ctx, id, err, summary)
		case errors.Is(err, store.ErrJobNotFound):
			logger.Debug("claim lost, skipping job")
			summary.Skipped++
			return nil
		default:
			return err
		}
	}

	logger.Info("job claimed", "dry_run", c.dryRun)

	if c.dryRun {
		return c.dryRunOne(ctx, record, summary)
	}

	outcome, runErr := c.runner.Run(ctx, record)

	result := store.Outcome{FinishTime: time.Now().UTC()}
	if runErr == nil {
		result.Status = domain.JobStatusCompleted
		exitCode := outcome.ExitCode
		result.ExitCode = &exitCode
		if encoded, err := json.Marshal(outcome.Result); err == nil {
			result.Result = encoded
		}
	} else {
		result.Status = domain.JobStatusFailed
		message := failureMessage(runErr, outcome)
		result.Error = &message
		if outcome != nil {
			exitCode := outcome.ExitCode
			result.ExitCode = &exitCode
		}
	}

	if err := c.store.Complete(ctx, id, result); err != nil {
		// The job is stranded in running; only manual restore can
		// recover it now.
		logger.Error("failed to record job outcome", "error", err)
		return err
	}

	summary.Processed++
	if result.Status == domain.JobStatusCompleted {
		summary.Succeeded++
		logger.Info("job completed", "exit_code", outcome.ExitCode)
	} else {
		summary.Failed++
		logger.Warn("job failed", "error", *result.Error)
	}

	return nil
}

// dryRunOne prepares a claimed job's workspace, then restores the record
// to queued. The scratch directory is preserved for inspection and no
// subprocess is launched.
func (c *Consumer) dryRunOne(ctx context.Context, record *domain.JobRecord, summary *Summary) error {
	id := record.Config.JobID
	logger := c.logger.With("job_id", id)

	invocation, prepErr := c.runner.Prepare(ctx, record)

	if err := c.store.Restore(ctx, id); err != nil {
		logger.Error("failed to restore job after dry-run", "error", err)
		return err
	}

	if prepErr != nil {
		logger.Warn("dry-run preparation failed, job restored to queued",
			"error", redact.Error(prepErr))
		summary.Processed++
		summary.Failed++
		return nil
	}

	logger.Info("dry-run prepared",
		"command", strings.Join(invocation.Command, " "),
		"input", invocation.InputPath,
		"scratch_dir", invocation.ScratchDir)

	summary.Processed++
	summary.Succeeded++
	return nil
}

// failWithoutClaim routes a malformed queued record directly to failed.
func (c *Consumer) failWithoutClaim(ctx context.Context, id string, cause error, summary *Summary) error {
	message := redact.Error(cause)

	err := c.store.FailQueued(ctx, id, message)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			// A racing consumer already routed it.
			summary.Skipped++
			return nil
		}
		return err
	}

	c.logger.Warn("malformed job routed to failed", "job_id", id, "error", message)
	summary.Processed++
	summary.Failed++
	return nil
}

// failureMessage builds the redacted diagnostic stored in runtime.error.
func failureMessage(runErr error, outcome *analysis.Outcome) string {
	var b strings.Builder
	b.WriteString(runErr.Error())

	if outcome != nil && outcome.Stderr != "" {
		fmt.Fprintf(&b, "; stderr: %s", outcome.Stderr)
	}

	return redact.String(b.String())
}

// Package analysis defines the boundary between the consumer and the
// external analysis program. The analyzer itself is an opaque subprocess;
// this package fixes only its contract: it reads a prepared input file and
// writes a single JSON document to stdout.
package analysis

import (
	"context"

	"github.com/mailsift/mailsift/internal/domain"
)

// Runner runs exactly one external analysis for one job record.
type Runner interface {
	// Run prepares a scratch workspace for the job, launches the analyzer
	// subprocess, and parses its output. A non-nil error means the job
	// failed; the returned Outcome, when non-nil, carries the exit code
	// and captured diagnostics regardless.
	Run(ctx context.Context, job *domain.JobRecord) (*Outcome, error)

	// Prepare performs the workspace and command preparation steps of Run
	// without launching the subprocess, and preserves the scratch
	// directory for inspection. This is the dry-run path.
	Prepare(ctx context.Context, job *domain.JobRecord) (*Invocation, error)
}

// Invocation describes a prepared analyzer run.
type Invocation struct {
	// Command is the full argv the analyzer would be launched with.
	Command []string

	// InputPath is the decrypted payload file inside the scratch directory.
	InputPath string

	// ScratchDir is the per-job workspace directory.
	ScratchDir string
}

// Outcome is the observable result of one analyzer run.
type Outcome struct {
	// Result is the parsed output document. Nil unless the analyzer
	// exited zero with parseable output.
	Result *Result

	// ExitCode is the subprocess exit code; -1 when the process was
	// killed or never ran.
	ExitCode int

	// Stdout and Stderr hold bounded excerpts of the captured streams
	// for diagnosis.
	Stdout string
	Stderr string
}

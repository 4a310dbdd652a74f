// Package analyzer implements analysis.Runner by launching the configured
// analysis program as a subprocess.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mailsift/mailsift/internal/analysis"
	"github.com/mailsift/mailsift/internal/codec"
	"github.com/mailsift/mailsift/internal/domain"
)

const (
	// inputFileName is the well-known payload file inside the scratch
	// directory; the analyzer receives its path on the command line.
	inputFileName = "input.json"

	// excerptLimit bounds the stdout/stderr excerpts kept for diagnosis.
	excerptLimit = 4096

	// killGracePeriod is how long Wait may linger after the process
	// group has been killed before I/O is abandoned.
	killGracePeriod = 5 * time.Second
)

// Config holds configuration for the subprocess invoker.
type Config struct {
	// Command is the argv prefix of the analysis program.
	Command []string

	// ScratchRoot is the directory under which per-job scratch
	// workspaces are created.
	ScratchRoot string

	// DefaultTimeout bounds the subprocess when the job itself does not
	// set timeout_seconds. Zero means unbounded.
	DefaultTimeout time.Duration
}

// Invoker runs the external analysis program for one job at a time.
type Invoker struct {
	cfg    Config
	codec  *codec.Codec
	logger *slog.Logger
}

var _ analysis.Runner = (*Invoker)(nil)

// New creates an Invoker. Returns an error wrapping
// analysis.ErrInvalidConfig when no analyzer command is configured.
func New(cfg Config, c *codec.Codec, logger *slog.Logger) (*Invoker, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("%w: analyzer command is empty", analysis.ErrInvalidConfig)
	}
	if cfg.ScratchRoot == "" {
		return nil, fmt.Errorf("%w: scratch root is empty", analysis.ErrInvalidConfig)
	}

	return &Invoker{cfg: cfg, codec: c, logger: logger}, nil
}

// Prepare builds the scratch workspace and invocation command for a job
// without launching anything. The scratch directory is left in place so an
// operator can inspect the staged input.
func (inv *Invoker) Prepare(ctx context.Context, job *domain.JobRecord) (*analysis.Invocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scratch := filepath.Join(inv.cfg.ScratchRoot, job.Config.JobID)

	// A leftover workspace from an earlier attempt at this job is stale;
	// the input must reflect the record as it is now.
	if err := os.RemoveAll(scratch); err != nil {
		return nil, fmt.Errorf("failed to clear scratch directory: %w", err)
	}
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	payload, err := inv.codec.DecodePayload(job.Config.Data)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyzer input: %w", err)
	}

	inputPath := filepath.Join(scratch, inputFileName)
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write analyzer input: %w", err)
	}

	command := append(append([]string{}, inv.cfg.Command...),
		"--input", inputPath,
		"--instructions", analysis.OutputInstruction,
	)
	if timeout := inv.timeoutFor(job); timeout > 0 {
		command = append(command, "--timeout-seconds",
			strconv.Itoa(int(timeout/time.Second)))
	}

	return &analysis.Invocation{
		Command:    command,
		InputPath:  inputPath,
		ScratchDir: scratch,
	}, nil
}

// Run executes the analyzer for one job and parses its output. The
// subprocess and its children run in their own process group, which is
// killed as a whole when the job's timeout expires. The scratch directory
// is removed once the run has completed either way.
func (inv *Invoker) Run(ctx context.Context, job *domain.JobRecord) (*analysis.Outcome, error) {
	invocation, err := inv.Prepare(ctx, job)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(invocation.ScratchDir); err != nil {
			inv.logger.Warn("failed to remove scratch directory",
				"job_id", job.Config.JobID, "error", err)
		}
	}()

	runCtx := ctx
	timeout := inv.timeoutFor(job)
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, invocation.Command[0], invocation.Command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = buildEnv(job.Config.Environment)
	if job.Config.WorkingDirectory != "" {
		cmd.Dir = job.Config.WorkingDirectory
	}

	// Give the analyzer its own process group so that on timeout the
	// whole tree dies, not just the immediate child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGracePeriod

	inv.logger.Debug("launching analyzer",
		"job_id", job.Config.JobID, "command", invocation.Command[0], "timeout", timeout)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	outcome := &analysis.Outcome{
		ExitCode: -1,
		Stdout:   excerpt(stdout.Bytes()),
		Stderr:   excerpt(stderr.Bytes()),
	}

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return outcome, fmt.Errorf("%w after %s", analysis.ErrAnalyzerTimeout, timeout)
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
			return outcome, fmt.Errorf("%w: exit code %d", analysis.ErrAnalyzerFailed, outcome.ExitCode)
		}

		return outcome, fmt.Errorf("%w: %v", analysis.ErrAnalyzerFailed, runErr)
	}

	outcome.ExitCode = 0

	result, err := analysis.ParseResult(stdout.Bytes())
	if err != nil {
		return outcome, err
	}
	outcome.Result = result

	inv.logger.Debug("analyzer finished",
		"job_id", job.Config.JobID, "duration", duration)

	return outcome, nil
}

// timeoutFor returns the effective timeout for a job.
func (inv *Invoker) timeoutFor(job *domain.JobRecord) time.Duration {
	if t := job.Timeout(); t > 0 {
		return t
	}
	return inv.cfg.DefaultTimeout
}

// buildEnv merges the job's environment block over the process environment.
func buildEnv(env map[string]string) []string {
	merged := os.Environ()
	for key, value := range env {
		merged = append(merged, key+"="+value)
	}
	return merged
}

// excerpt truncates captured output to a bounded diagnostic snippet.
func excerpt(data []byte) string {
	if len(data) <= excerptLimit {
		return string(data)
	}
	return string(data[:excerptLimit]) + "... (truncated)"
}

package analyzer

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/internal/analysis"
	"github.com/mailsift/mailsift/internal/codec"
	"github.com/mailsift/mailsift/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// writeScript writes a shell script the invoker can launch as the analyzer.
func writeScript(t *testing.T, body string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyzer.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return []string{"/bin/sh", path}
}

func newTestInvoker(t *testing.T, command []string, defaultTimeout time.Duration) (*Invoker, string) {
	t.Helper()
	scratchRoot := t.TempDir()
	inv, err := New(Config{
		Command:        command,
		ScratchRoot:    scratchRoot,
		DefaultTimeout: defaultTimeout,
	}, codec.New("test secret"), testLogger())
	require.NoError(t, err)
	return inv, scratchRoot
}

func newTestJob(t *testing.T, timeoutSeconds *int, data map[string]domain.PayloadValue) *domain.JobRecord {
	t.Helper()
	record, err := domain.NewJobRecord("", timeoutSeconds, nil, data)
	require.NoError(t, err)
	return record
}

func TestNewRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	_, err := New(Config{ScratchRoot: t.TempDir()}, codec.New(""), testLogger())
	assert.ErrorIs(t, err, analysis.ErrInvalidConfig)

	_, err = New(Config{Command: []string{"analyzer"}}, codec.New(""), testLogger())
	assert.ErrorIs(t, err, analysis.ErrInvalidConfig)
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	command := writeScript(t, `echo '{"summary":"ok","verdict":"clean","tags":["spam-check"],"confidence":0.9}'`)
	inv, scratchRoot := newTestInvoker(t, command, 0)

	job := newTestJob(t, nil, map[string]domain.PayloadValue{
		"body": domain.PlainString("hello"),
	})

	outcome, err := inv.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "ok", outcome.Result.Summary)
	assert.Equal(t, "clean", outcome.Result.Verdict)
	assert.Equal(t, []string{"spam-check"}, outcome.Result.Tags)

	// Scratch directory is cleaned up after a completed run.
	_, statErr := os.Stat(filepath.Join(scratchRoot, job.Config.JobID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunStagesDecryptedInput(t *testing.T) {
	t.Parallel()

	c := codec.New("test secret")
	field, err := c.Encrypt("secret email body")
	require.NoError(t, err)

	// The analyzer checks its staged input so the test can observe that
	// the scratch file held the decrypted payload.
	command := writeScript(t, `
input=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--input" ]; then input="$2"; shift; fi
  shift
done
if grep -q "secret email body" "$input" && grep -q "hello" "$input"; then
  echo '{"summary":"saw decrypted input"}'
else
  echo '{"summary":"payload missing"}'
fi
`)
	inv, _ := newTestInvoker(t, command, 0)

	job := newTestJob(t, nil, map[string]domain.PayloadValue{
		"body":    domain.EncryptedValue(field),
		"subject": domain.PlainString("hello"),
	})

	outcome, err := inv.Run(context.Background(), job)
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "saw decrypted input", outcome.Result.Summary)
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()

	command := writeScript(t, `echo "analysis blew up" >&2; exit 3`)
	inv, _ := newTestInvoker(t, command, 0)

	job := newTestJob(t, nil, nil)

	outcome, err := inv.Run(context.Background(), job)
	assert.ErrorIs(t, err, analysis.ErrAnalyzerFailed)
	require.NotNil(t, outcome)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Contains(t, outcome.Stderr, "analysis blew up")
}

func TestRunInvalidOutput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		script string
	}{
		{"not json", `echo "I am not JSON"`},
		{"missing summary", `echo '{"verdict":"clean"}'`},
		{"confidence out of range", `echo '{"summary":"ok","confidence":7}'`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			inv, _ := newTestInvoker(t, writeScript(t, tc.script), 0)
			job := newTestJob(t, nil, nil)

			outcome, err := inv.Run(context.Background(), job)
			assert.ErrorIs(t, err, analysis.ErrInvalidOutput)
			require.NotNil(t, outcome)
			assert.Equal(t, 0, outcome.ExitCode)
		})
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	command := writeScript(t, `sleep 30`)
	inv, _ := newTestInvoker(t, command, 0)

	timeout := 1
	job := newTestJob(t, &timeout, nil)

	start := time.Now()
	outcome, err := inv.Run(context.Background(), job)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, analysis.ErrAnalyzerTimeout)
	require.NotNil(t, outcome)
	assert.Equal(t, -1, outcome.ExitCode)
	assert.Less(t, elapsed, 10*time.Second,
		"the analyzer and its children must die with the timeout, not the sleep")
}

func TestPreparePreservesScratchDir(t *testing.T) {
	t.Parallel()

	command := []string{"/usr/local/bin/analyzer", "--model", "small"}
	inv, scratchRoot := newTestInvoker(t, command, 0)

	timeout := 5
	job := newTestJob(t, &timeout, map[string]domain.PayloadValue{
		"body": domain.PlainString("inspect me"),
	})

	invocation, err := inv.Prepare(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(scratchRoot, job.Config.JobID), invocation.ScratchDir)
	assert.Equal(t, filepath.Join(invocation.ScratchDir, "input.json"), invocation.InputPath)

	// The argv embeds the command prefix, input path, output contract,
	// and the timeout.
	assert.Equal(t, command, invocation.Command[:len(command)])
	assert.Contains(t, invocation.Command, "--input")
	assert.Contains(t, invocation.Command, invocation.InputPath)
	assert.Contains(t, invocation.Command, "--instructions")
	assert.Contains(t, invocation.Command, "--timeout-seconds")
	assert.Contains(t, invocation.Command, "5")

	// The staged input exists and holds the plain payload.
	data, err := os.ReadFile(invocation.InputPath)
	require.NoError(t, err)

	var staged map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &staged))
	assert.JSONEq(t, `"inspect me"`, string(staged["body"]))
}

func TestPrepareDecryptFailure(t *testing.T) {
	t.Parallel()

	field, err := codec.New("other secret").Encrypt("hidden")
	require.NoError(t, err)

	inv, _ := newTestInvoker(t, []string{"analyzer"}, 0)
	job := newTestJob(t, nil, map[string]domain.PayloadValue{
		"body": domain.EncryptedValue(field),
	})

	_, err = inv.Prepare(context.Background(), job)
	assert.ErrorIs(t, err, codec.ErrDecryptFailed)
	assert.NotContains(t, err.Error(), "hidden")
}

package analysis

import "errors"

// Common errors returned by analyzer runs.
var (
	// ErrAnalyzerFailed is returned when the subprocess exits non-zero.
	ErrAnalyzerFailed = errors.New("analyzer exited with an error")

	// ErrAnalyzerTimeout is returned when the subprocess exceeded the
	// job's configured timeout and was killed.
	ErrAnalyzerTimeout = errors.New("analyzer timed out")

	// ErrInvalidOutput is returned when the subprocess exited zero but
	// its stdout does not satisfy the output contract.
	ErrInvalidOutput = errors.New("analyzer produced invalid output")

	// ErrInvalidConfig is returned when the runner configuration is
	// invalid (e.g., no analyzer command configured).
	ErrInvalidConfig = errors.New("invalid analyzer configuration")
)

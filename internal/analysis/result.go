package analysis

import (
	"encoding/json"
	"fmt"
)

// Result is the output contract of the analyzer: a single JSON document on
// stdout. Summary is required; the remaining fields are optional and
// unknown fields are tolerated.
type Result struct {
	Summary    string   `json:"summary"`
	Verdict    string   `json:"verdict,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// OutputInstruction is passed to the analyzer so it knows the expected
// output shape.
const OutputInstruction = "Write a single JSON object to stdout with fields: " +
	`"summary" (string, required), "verdict" (string), ` +
	`"tags" (array of strings), "confidence" (number between 0 and 1).`

// ParseResult decodes analyzer stdout against the output contract.
// Any violation is wrapped with ErrInvalidOutput; invalid output is a hard
// failure and is never retried.
func ParseResult(data []byte) (*Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	if result.Summary == "" {
		return nil, fmt.Errorf("%w: missing required field %q", ErrInvalidOutput, "summary")
	}

	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", ErrInvalidOutput, result.Confidence)
	}

	return &result, nil
}

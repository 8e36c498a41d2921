// Package intent evaluates operator commands against the visible-object
// set and produces a structured pick decision. The production evaluator
// is Gemini; the remote call is wrapped in bounded exponential-backoff
// retry for transient failures and degrades to an explicit invalid
// decision rather than surfacing an error to the voice turn.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Decision is the atomic outcome of one evaluation. Immutable once
// produced.
type Decision struct {
	Valid  bool   `json:"valid"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// Fallback is the degraded decision used when evaluation is impossible:
// retries exhausted, malformed response, or evaluator unavailable.
func Fallback() Decision {
	return Decision{Valid: false, Target: "", Reason: "Cannot evaluate."}
}

// Evaluator turns a transcript plus the visible labels into a Decision.
type Evaluator interface {
	Evaluate(ctx context.Context, command string, visible []string) (Decision, error)
}

// ParseDecision decodes a model response into a Decision, defaulting any
// missing field instead of failing: valid=false, target absent,
// reason="No reason provided." A malformed document is a permanent error.
func ParseDecision(raw string) (Decision, error) {
	var partial struct {
		Valid  *bool   `json:"valid"`
		Target *string `json:"target"`
		Reason *string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &partial); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	d := Decision{Reason: "No reason provided."}
	if partial.Valid != nil {
		d.Valid = *partial.Valid
	}
	if partial.Target != nil {
		d.Target = *partial.Target
	}
	if partial.Reason != nil && *partial.Reason != "" {
		d.Reason = *partial.Reason
	}
	return d, nil
}

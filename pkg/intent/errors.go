package intent

import (
	"errors"
	"fmt"

	"github.com/googleapis/gax-go/v2/apierror"
)

// Sentinel errors for evaluation failures.
var (
	// ErrBadResponse marks a malformed or off-schema model response.
	// Permanent: retrying a deterministic failure yields nothing new.
	ErrBadResponse = errors.New("intent: malformed evaluator response")

	// ErrNoEvaluator is returned when no evaluator is configured
	// (missing API key). Permanent.
	ErrNoEvaluator = errors.New("intent: evaluator not configured")
)

// retriable is implemented by errors that are worth retrying.
type retriable interface {
	Retriable() bool
}

// TransientError wraps a failure that may succeed on retry, such as a
// rate limit or temporary unavailability.
type TransientError struct {
	Code int
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("intent: transient evaluator error (status %d): %v", e.Code, e.Err)
}

func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Retriable() bool { return true }

// IsRetriable reports whether the error class is worth retrying:
// rate-limited (429) or temporarily unavailable (503) API responses.
// Everything else, including schema errors, is permanent.
func IsRetriable(err error) bool {
	var r retriable
	if errors.As(err, &r) {
		return r.Retriable()
	}
	var ae *apierror.APIError
	if errors.As(err, &ae) {
		code := ae.HTTPCode()
		return code == 429 || code == 503
	}
	return false
}

package intent

import (
	"context"
	"time"

	"github.com/jakkii/scrapple/internal/log"
)

// Backoff returns the delay before the given retry attempt (1-based):
// base × 2^(attempt−1). It is a pure function of its inputs so retry
// timing can be tested without I/O.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Retrier runs an evaluation with bounded retry. Only retriable failure
// classes are retried; permanent failures and exhaustion both surface
// the last error, which callers degrade to the fallback decision.
type Retrier struct {
	// MaxAttempts is the total attempt budget (first try included).
	MaxAttempts int

	// Base seeds the exponential backoff.
	Base time.Duration

	// Sleep is swapped out in tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultRetrier matches the production evaluator settings.
func DefaultRetrier() Retrier {
	return Retrier{MaxAttempts: 3, Base: 2 * time.Second}
}

// Do invokes fn until it succeeds, fails permanently, or the attempt
// budget is exhausted.
func (r Retrier) Do(ctx context.Context, fn func(context.Context) (Decision, error)) (Decision, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		d, err := fn(ctx)
		if err == nil {
			return d, nil
		}
		lastErr = err

		if !IsRetriable(err) {
			log.Error("evaluator failed", "error", err)
			return Decision{}, err
		}
		if attempt == attempts {
			break
		}

		wait := Backoff(attempt, r.Base)
		log.Warn("evaluator unavailable, retrying",
			"attempt", attempt, "wait", wait, "error", err)
		sleep(wait)

		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
	}

	log.Error("evaluator failed after retries", "attempts", attempts, "error", lastErr)
	return Decision{}, lastErr
}

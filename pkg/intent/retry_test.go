package intent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{0, 2 * time.Second}, // clamped
	}
	for _, c := range cases {
		if got := Backoff(c.attempt, base); got != c.want {
			t.Errorf("Backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	transient := &TransientError{Code: 429, Err: errors.New("rate limited")}
	attempts := 0
	var slept []time.Duration

	r := Retrier{
		MaxAttempts: 3,
		Base:        time.Second,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	}

	d, err := r.Do(context.Background(), func(ctx context.Context) (Decision, error) {
		attempts++
		if attempts <= 2 {
			return Decision{}, transient
		}
		return Decision{Valid: true, Target: "nut", Reason: "Target acquired: nut"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Valid || d.Target != "nut" {
		t.Errorf("unexpected decision: %+v", d)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	// Delays must be exactly base×1 then base×2.
	if len(slept) != 2 || slept[0] != time.Second || slept[1] != 2*time.Second {
		t.Errorf("sleeps = %v, want [1s 2s]", slept)
	}
}

func TestRetryExhaustion(t *testing.T) {
	transient := &TransientError{Code: 503, Err: errors.New("unavailable")}
	attempts := 0

	r := Retrier{MaxAttempts: 3, Base: time.Second, Sleep: func(time.Duration) {}}
	_, err := r.Do(context.Background(), func(ctx context.Context) (Decision, error) {
		attempts++
		return Decision{}, transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	// No attempt beyond the budget.
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPermanentFailsImmediately(t *testing.T) {
	permanent := errors.New("schema exploded")
	attempts := 0
	slept := 0

	r := Retrier{MaxAttempts: 3, Base: time.Second, Sleep: func(time.Duration) { slept++ }}
	_, err := r.Do(context.Background(), func(ctx context.Context) (Decision, error) {
		attempts++
		return Decision{}, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("permanent failures must not retry, attempts = %d", attempts)
	}
	if slept != 0 {
		t.Errorf("permanent failures must not sleep, sleeps = %d", slept)
	}
}

func TestIsRetriable(t *testing.T) {
	if !IsRetriable(&TransientError{Code: 429}) {
		t.Error("transient error must be retriable")
	}
	if IsRetriable(errors.New("boom")) {
		t.Error("plain error must not be retriable")
	}
	if IsRetriable(ErrBadResponse) {
		t.Error("schema error must not be retriable")
	}
	// Wrapped transient errors stay retriable.
	wrapped := &TransientError{Code: 503, Err: errors.New("inner")}
	if !IsRetriable(wrapped) {
		t.Error("wrapped transient must be retriable")
	}
}

package intent

import (
	"context"
	"errors"
	"testing"
)

func TestParseDecision(t *testing.T) {
	t.Run("full", func(t *testing.T) {
		d, err := ParseDecision(`{"valid":true,"target":"gear","reason":"Target acquired: gear"}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Valid || d.Target != "gear" || d.Reason != "Target acquired: gear" {
			t.Errorf("unexpected decision: %+v", d)
		}
	})

	t.Run("missing reason defaults", func(t *testing.T) {
		d, err := ParseDecision(`{"valid":false,"target":""}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Reason != "No reason provided." {
			t.Errorf("reason = %q", d.Reason)
		}
	})

	t.Run("missing valid defaults false", func(t *testing.T) {
		d, err := ParseDecision(`{"target":"skull","reason":"whatever"}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Valid {
			t.Error("valid must default to false")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseDecision(`I think the answer is gear`)
		if !errors.Is(err, ErrBadResponse) {
			t.Fatalf("expected ErrBadResponse, got %v", err)
		}
	})
}

func TestFallback(t *testing.T) {
	d := Fallback()
	if d.Valid || d.Target != "" || d.Reason != "Cannot evaluate." {
		t.Errorf("unexpected fallback: %+v", d)
	}
}

func TestMockSequence(t *testing.T) {
	m := Sequence(
		MockOutcome{Err: &TransientError{Code: 429}},
		MockOutcome{Decision: Decision{Valid: true, Target: "heart", Reason: "ok"}},
	)

	if _, err := m.Evaluate(context.Background(), "grab the heart", []string{"heart"}); !IsRetriable(err) {
		t.Fatalf("first outcome should be transient, got %v", err)
	}
	d, err := m.Evaluate(context.Background(), "grab the heart", []string{"heart"})
	if err != nil || d.Target != "heart" {
		t.Fatalf("second outcome should succeed, got %+v %v", d, err)
	}
	// Last outcome repeats.
	d, err = m.Evaluate(context.Background(), "grab the heart", []string{"heart"})
	if err != nil || d.Target != "heart" {
		t.Fatalf("outcomes should repeat the tail, got %+v %v", d, err)
	}

	if m.CallCount() != 3 {
		t.Errorf("calls = %d, want 3", m.CallCount())
	}
	if got := m.Calls()[0].Command; got != "grab the heart" {
		t.Errorf("recorded command = %q", got)
	}
}

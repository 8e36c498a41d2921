package intent

import (
	"context"
	"sync"
)

// Mock implements Evaluator for testing. Behaviour is customized via the
// EvaluateFunc field; calls are recorded for verification.
type Mock struct {
	// EvaluateFunc is called when Evaluate is invoked.
	// If nil, returns the fallback decision.
	EvaluateFunc func(ctx context.Context, command string, visible []string) (Decision, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Evaluate invocation.
type MockCall struct {
	Command string
	Visible []string
}

// Evaluate calls EvaluateFunc and records the call.
func (m *Mock) Evaluate(ctx context.Context, command string, visible []string) (Decision, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Command: command, Visible: visible})
	m.mu.Unlock()

	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, command, visible)
	}
	return Fallback(), nil
}

// Calls returns all recorded invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Evaluate invocations.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockOutcome is one scripted result for Sequence.
type MockOutcome struct {
	Decision Decision
	Err      error
}

// Sequence returns a mock that yields the given outcomes in order,
// repeating the last one when exhausted.
func Sequence(outcomes ...MockOutcome) *Mock {
	var mu sync.Mutex
	i := 0
	return &Mock{
		EvaluateFunc: func(ctx context.Context, command string, visible []string) (Decision, error) {
			mu.Lock()
			n := i
			if i < len(outcomes)-1 {
				i++
			}
			mu.Unlock()
			return outcomes[n].Decision, outcomes[n].Err
		},
	}
}

// Verify Mock implements Evaluator at compile time.
var _ Evaluator = (*Mock)(nil)

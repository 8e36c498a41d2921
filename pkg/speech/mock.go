package speech

import (
	"context"
	"sync"
	"time"
)

// MockSpeaker records spoken lines for verification in tests.
type MockSpeaker struct {
	// SpeakFunc is called when Speak is invoked. If nil, Speak
	// records the line and succeeds.
	SpeakFunc func(ctx context.Context, text string) error

	mu     sync.Mutex
	spoken []string
}

// Speak records the line and delegates to SpeakFunc.
func (m *MockSpeaker) Speak(ctx context.Context, text string) error {
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	m.mu.Unlock()

	if m.SpeakFunc != nil {
		return m.SpeakFunc(ctx, text)
	}
	return nil
}

// Spoken returns all lines spoken so far.
func (m *MockSpeaker) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.spoken))
	copy(out, m.spoken)
	return out
}

// MockListener yields a scripted transcript.
type MockListener struct {
	// ListenFunc is called when Listen is invoked. If nil, Listen
	// returns Transcript.
	ListenFunc func(ctx context.Context, duration time.Duration) (string, error)

	// Transcript is the fixed result when ListenFunc is nil.
	Transcript string

	mu    sync.Mutex
	calls int
}

// Listen returns the scripted transcript.
func (m *MockListener) Listen(ctx context.Context, duration time.Duration) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.ListenFunc != nil {
		return m.ListenFunc(ctx, duration)
	}
	return m.Transcript, nil
}

// CallCount returns the number of Listen invocations.
func (m *MockListener) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var (
	_ Speaker  = (*MockSpeaker)(nil)
	_ Listener = (*MockListener)(nil)
)

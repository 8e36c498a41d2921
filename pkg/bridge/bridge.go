// Package bridge supervises the external robot-control process
// (lerobot.record). It owns the process handle exclusively: starting,
// relaying interactive confirmations over stdin, draining output for
// diagnostics, and tearing the process down gracefully with a forced
// kill as the escalation. At most one control session exists at a time.
package bridge

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jakkii/scrapple/internal/log"
)

// Sentinel errors for session lifecycle violations.
var (
	// ErrAlreadyRunning is returned by Start while a session is active.
	ErrAlreadyRunning = errors.New("bridge: session already running")

	// ErrNotRunning is returned by Confirm/Send/Stop with no active session.
	ErrNotRunning = errors.New("bridge: no active session")
)

// State is the bridge lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// maxOutputLines bounds the diagnostic output buffer.
const maxOutputLines = 200

// DefaultStopTimeout is how long Stop waits for a graceful exit before
// escalating to a kill.
const DefaultStopTimeout = 5 * time.Second

// Session is one lifetime of the control process.
type Session struct {
	ID        string
	StartedAt time.Time
	proc      Process
}

// Bridge supervises the control process. All state transitions are
// serialized through its mutex; the mutex is never held across a
// blocking wait on the process.
type Bridge struct {
	launcher    Launcher
	stopTimeout time.Duration

	mu    sync.Mutex
	state State
	sess  *Session

	lastTarget string

	outMu  sync.Mutex
	output []string
}

// New creates a bridge using the given launcher.
func New(launcher Launcher, stopTimeout time.Duration) *Bridge {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Bridge{
		launcher:    launcher,
		stopTimeout: stopTimeout,
	}
}

// Start launches a new control session. Only valid from idle; returns
// ErrAlreadyRunning otherwise. On launch failure the bridge returns to
// idle and surfaces the error without retrying.
func (b *Bridge) Start(p Params) error {
	b.mu.Lock()
	if b.state != StateIdle {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.state = StateStarting
	b.mu.Unlock()

	argv := p.Command()
	log.Info("starting control session", "task", p.Task, "repo_id", p.RepoID)
	log.Debug("control command", "argv", strings.Join(argv, " "))

	proc, err := b.launcher.Launch(argv)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.state = StateIdle
		return fmt.Errorf("start control session: %w", err)
	}

	sess := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		proc:      proc,
	}
	b.sess = sess
	b.state = StateRunning

	go b.drainOutput(sess)

	log.Info("control session started", "session", sess.ID, "pid", proc.PID())
	return nil
}

// Confirm sends a single Enter keystroke to the control process, the
// interactive "proceed" that starts or confirms an episode. Returns
// ErrNotRunning with no active session; the caller decides whether that
// is fatal.
func (b *Bridge) Confirm() error {
	proc, err := b.runningProc()
	if err != nil {
		return err
	}
	if _, err := proc.Write([]byte("\n")); err != nil {
		return fmt.Errorf("send confirm: %w", err)
	}
	log.Info("confirm sent to control process")
	return nil
}

// Send writes an arbitrary command line to the control process stdin.
func (b *Bridge) Send(command string) error {
	proc, err := b.runningProc()
	if err != nil {
		return err
	}
	if _, err := proc.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	log.Info("command sent to control process", "command", command)
	return nil
}

// Stop tears down the active session: close stdin, request termination,
// wait up to the stop timeout, then kill. The bridge always ends idle,
// even when the kill itself fails; a stuck state would wedge every later
// start. Returns ErrNotRunning when there was nothing to stop.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	sess := b.sess
	if sess == nil {
		b.mu.Unlock()
		return ErrNotRunning
	}
	b.state = StateStopping
	b.mu.Unlock()

	b.shutdown(sess.proc)

	b.mu.Lock()
	if b.sess == sess {
		b.sess = nil
	}
	b.state = StateIdle
	b.mu.Unlock()

	log.Info("control session stopped", "session", sess.ID)
	return nil
}

// shutdown runs the graceful-then-forced teardown outside the state lock.
func (b *Bridge) shutdown(proc Process) {
	if err := proc.CloseInput(); err != nil {
		log.Debug("close stdin failed", "error", err)
	}
	if !proc.Exited() {
		if err := proc.Terminate(); err != nil {
			log.Debug("terminate failed", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		proc.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(b.stopTimeout):
	}

	log.Warn("control process ignored termination, killing")
	if err := proc.Kill(); err != nil {
		// State still resets; the process is beyond our reach.
		log.Error("kill failed", "error", err)
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}

// IsRunning reports whether a live session exists. An exited-but-not-yet
// reaped process reads as not running.
func (b *Bridge) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateRunning && b.sess != nil && !b.sess.proc.Exited()
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Session returns the active session's identity, if any.
func (b *Bridge) Session() (id string, startedAt time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sess == nil {
		return "", time.Time{}, false
	}
	return b.sess.ID, b.sess.StartedAt, true
}

// SetTarget records the most recent commanded pick target. This is
// orchestration metadata surfaced via status; the control process is
// pre-armed for the generic pick task.
func (b *Bridge) SetTarget(target string) {
	b.mu.Lock()
	b.lastTarget = target
	b.mu.Unlock()
	if target != "" {
		log.Info("pick target set", "target", target)
	}
}

// LastTarget returns the most recent commanded target, or "".
func (b *Bridge) LastTarget() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTarget
}

// Output returns a copy of the buffered control-process output lines.
func (b *Bridge) Output() []string {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	out := make([]string, len(b.output))
	copy(out, b.output)
	return out
}

// runningProc returns the live process or ErrNotRunning.
func (b *Bridge) runningProc() (Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateRunning || b.sess == nil || b.sess.proc.Exited() {
		return nil, ErrNotRunning
	}
	return b.sess.proc, nil
}

// drainOutput reads the process output line-by-line until the stream
// closes. A closed stream while the session is still current means the
// process died on its own: the bridge records the crash and resets.
func (b *Bridge) drainOutput(sess *Session) {
	scanner := bufio.NewScanner(sess.proc.Output())
	for scanner.Scan() {
		line := scanner.Text()
		b.appendOutput(line)
		log.Debug("control output", "line", line)
	}

	b.mu.Lock()
	crashed := b.sess == sess && b.state == StateRunning
	if crashed {
		b.sess = nil
		b.state = StateIdle
	}
	b.mu.Unlock()

	if crashed {
		log.Warn("control process exited unexpectedly", "session", sess.ID)
	}
}

func (b *Bridge) appendOutput(line string) {
	b.outMu.Lock()
	b.output = append(b.output, line)
	if len(b.output) > maxOutputLines {
		b.output = b.output[len(b.output)-maxOutputLines:]
	}
	b.outMu.Unlock()
}

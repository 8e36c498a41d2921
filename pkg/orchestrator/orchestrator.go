// Package orchestrator coordinates one voice turn end to end: announce
// the visible objects, capture the operator's command, evaluate it, speak
// the verdict and hand the camera over to the robot control session.
//
// The orchestrator owns the pause-before-dispatch ordering: the control
// process is never started or confirmed while the camera arbiter still
// holds a device handle, and every dispatch failure resumes the stream
// so the feed is never left frozen without an active session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jakkii/scrapple/internal/log"
	"github.com/jakkii/scrapple/pkg/bridge"
	"github.com/jakkii/scrapple/pkg/intent"
	"github.com/jakkii/scrapple/pkg/speech"
	"github.com/jakkii/scrapple/pkg/vision"
)

// Cameras is the camera arbiter surface the orchestrator drives.
type Cameras interface {
	PauseAll() error
	ResumeAll() error
	Snapshot() vision.DetectionSet
}

// Control is the process bridge surface the orchestrator drives.
type Control interface {
	Start(p bridge.Params) error
	Confirm() error
	Stop() error
	IsRunning() bool
	SetTarget(target string)
	LastTarget() string
}

// Config tunes the turn protocol.
type Config struct {
	// DefaultVisible is announced when the detector currently sees
	// nothing, so the demo bench set is always offered.
	DefaultVisible []string

	// ListenWindow is the default command capture duration.
	ListenWindow time.Duration

	// SettleDelay is the wait between camera release and process
	// start, giving the hardware time to free the device.
	SettleDelay time.Duration

	// Session is the control process parameter template. Task is
	// overridden per dispatch with the commanded target.
	Session bridge.Params
}

// TurnResult is the outcome of one voice turn.
type TurnResult struct {
	Command       string          `json:"command"`
	Decision      intent.Decision `json:"decision"`
	PromptSpoken  string          `json:"prompt_spoken,omitempty"`
	ResultSpoken  string          `json:"tts_result"`
	SpeechError   string          `json:"speech_error,omitempty"`
	Dispatched    bool            `json:"dispatched"`
	DispatchError string          `json:"dispatch_error,omitempty"`
}

// Orchestrator runs the voice turn state machine and the camera/process
// hand-off.
type Orchestrator struct {
	cams     Cameras
	ctl      Control
	speaker  speech.Speaker
	listener speech.Listener
	eval     intent.Evaluator
	retrier  intent.Retrier
	cfg      Config

	// sleep is swapped out in tests; nil means time.Sleep.
	sleep func(time.Duration)

	// dispatchMu serializes dispatch and kill so pause/start/resume
	// sequences from concurrent turns never interleave.
	dispatchMu sync.Mutex

	// stateMu guards the last turn record.
	stateMu      sync.Mutex
	lastCommand  string
	lastDecision intent.Decision
}

// New wires the orchestrator. The retrier should come from
// intent.DefaultRetrier unless tests need instrumented sleeps.
func New(cams Cameras, ctl Control, speaker speech.Speaker, listener speech.Listener,
	eval intent.Evaluator, retrier intent.Retrier, cfg Config) *Orchestrator {
	if cfg.ListenWindow <= 0 {
		cfg.ListenWindow = 4 * time.Second
	}
	return &Orchestrator{
		cams:     cams,
		ctl:      ctl,
		speaker:  speaker,
		listener: listener,
		eval:     eval,
		retrier:  retrier,
		cfg:      cfg,
		sleep:    time.Sleep,
	}
}

// Visible returns the labels to offer the operator: live detections
// when available, the configured default set otherwise.
func (o *Orchestrator) Visible() []string {
	if labels := o.cams.Snapshot().Labels(); len(labels) > 0 {
		return labels
	}
	return o.cfg.DefaultVisible
}

// Announce speaks the scanner prompt and returns what was said.
func (o *Orchestrator) Announce(ctx context.Context) (string, []string, error) {
	visible := o.Visible()
	prompt := announcePrompt(visible)
	err := o.speaker.Speak(ctx, prompt)
	if err != nil {
		log.Warn("announce speech failed", "error", err)
	}
	return prompt, visible, err
}

func announcePrompt(visible []string) string {
	objects := "nothing"
	if len(visible) > 0 {
		objects = strings.Join(visible, ", ")
	}
	return fmt.Sprintf("Scanners active. I see %s. What is the salvage target?", objects)
}

// BeginTurn runs one full voice turn: announce, capture, evaluate,
// respond and dispatch. A non-positive duration uses the default
// listen window. The turn always reaches a terminal result; failures
// along the way degrade the decision rather than erroring out.
func (o *Orchestrator) BeginTurn(ctx context.Context, duration time.Duration) TurnResult {
	if duration <= 0 {
		duration = o.cfg.ListenWindow
	}

	res := TurnResult{}

	// Announce. A speech failure is surfaced but the turn continues;
	// the operator may still be able to command by text.
	prompt, visible, err := o.Announce(ctx)
	res.PromptSpoken = prompt
	if err != nil {
		res.SpeechError = err.Error()
	}

	// Capture.
	transcript, err := o.listener.Listen(ctx, duration)
	if err != nil {
		log.Warn("command capture failed", "error", err)
		if res.SpeechError == "" {
			res.SpeechError = err.Error()
		}
	}
	if transcript == "" {
		res.Decision = intent.Decision{Valid: false, Reason: "No audio/text detected."}
		res.ResultSpoken = "No command detected."
		o.speakResult(ctx, &res)
		o.recordTurn(res.Command, res.Decision)
		return res
	}
	res.Command = transcript

	o.finishTurn(ctx, &res, transcript, visible)
	return res
}

// EvaluateText runs the tail of a turn for an already-transcribed
// command, as submitted by the browser speech API. Empty visible lists
// fall back to the current detection snapshot.
func (o *Orchestrator) EvaluateText(ctx context.Context, command string, visible []string) TurnResult {
	res := TurnResult{}
	command = strings.TrimSpace(command)
	if command == "" {
		res.Decision = intent.Decision{Valid: false, Reason: "No command provided."}
		res.ResultSpoken = "No command detected."
		o.speakResult(ctx, &res)
		return res
	}
	if len(visible) == 0 {
		visible = o.Visible()
	}
	res.Command = command

	o.finishTurn(ctx, &res, command, visible)
	return res
}

// finishTurn evaluates the command, speaks the verdict and dispatches.
func (o *Orchestrator) finishTurn(ctx context.Context, res *TurnResult, command string, visible []string) {
	res.Decision = o.evaluate(ctx, command, visible)

	if res.Decision.Valid {
		res.ResultSpoken = fmt.Sprintf("Confirmed. Locking on to target: %s.", res.Decision.Target)
	} else {
		reason := res.Decision.Reason
		if reason == "" {
			reason = "Unknown rejection."
		}
		res.ResultSpoken = fmt.Sprintf("Negative. %s", reason)
	}
	o.speakResult(ctx, res)
	o.recordTurn(command, res.Decision)

	if res.Decision.Valid && res.Decision.Target != "" {
		if err := o.Dispatch(res.Decision.Target); err != nil {
			// The decision stands; only the hand-off failed.
			res.DispatchError = err.Error()
		} else {
			res.Dispatched = true
		}
	}
}

// evaluate calls the evaluator with bounded retry, degrading to the
// fallback decision when it cannot produce a verdict.
func (o *Orchestrator) evaluate(ctx context.Context, command string, visible []string) intent.Decision {
	if o.eval == nil {
		return intent.Fallback()
	}
	d, err := o.retrier.Do(ctx, func(ctx context.Context) (intent.Decision, error) {
		return o.eval.Evaluate(ctx, command, visible)
	})
	if err != nil {
		return intent.Fallback()
	}
	return d
}

// speakResult voices the verdict. The decision is already final, so a
// failure here is recorded but never changes the outcome.
func (o *Orchestrator) speakResult(ctx context.Context, res *TurnResult) {
	if err := o.speaker.Speak(ctx, res.ResultSpoken); err != nil {
		log.Warn("result speech failed", "error", err)
		if res.SpeechError == "" {
			res.SpeechError = err.Error()
		}
	}
}

// Dispatch hands the camera to the control session for the given
// target: pause the feeds, wait for the hardware to settle, then start
// a fresh session or confirm the running one. A failed hand-off
// resumes the cameras before returning.
func (o *Orchestrator) Dispatch(target string) error {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	if err := o.cams.PauseAll(); err != nil {
		return fmt.Errorf("pause cameras: %w", err)
	}
	o.sleep(o.cfg.SettleDelay)

	if o.ctl.IsRunning() {
		o.ctl.SetTarget(target)
		if err := o.ctl.Confirm(); err != nil {
			o.resumeCompensating()
			return fmt.Errorf("confirm episode: %w", err)
		}
		log.Info("episode confirmed", "target", target)
		return nil
	}

	p := o.cfg.Session
	p.Task = taskFor(target)
	if err := o.ctl.Start(p); err != nil {
		o.resumeCompensating()
		return fmt.Errorf("start control session: %w", err)
	}
	o.ctl.SetTarget(target)
	log.Info("control session dispatched", "target", target)
	return nil
}

// resumeCompensating undoes a pause after a failed dispatch so the
// stream is never left frozen without an active session.
func (o *Orchestrator) resumeCompensating() {
	if err := o.cams.ResumeAll(); err != nil {
		log.Error("compensating camera resume failed", "error", err)
	}
}

// taskFor builds the control task description for a target.
func taskFor(target string) string {
	if target == "" {
		return ""
	}
	return "Grab the " + strings.ToUpper(target[:1]) + target[1:]
}

// StartSession starts a control session with explicit parameters,
// pausing the cameras first to honor the device hand-off.
func (o *Orchestrator) StartSession(p bridge.Params) error {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	if err := o.cams.PauseAll(); err != nil {
		return fmt.Errorf("pause cameras: %w", err)
	}
	o.sleep(o.cfg.SettleDelay)

	if err := o.ctl.Start(p); err != nil {
		o.resumeCompensating()
		return err
	}
	return nil
}

// StopSession stops the control session and resumes the cameras.
func (o *Orchestrator) StopSession() error {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	err := o.ctl.Stop()
	o.resumeCompensating()
	return err
}

// Confirm forwards a single proceed signal to the control process.
func (o *Orchestrator) Confirm() error {
	return o.ctl.Confirm()
}

// KillSession force-stops the control session, unconditionally resumes
// the cameras and clears target metadata. Safe to call at any time;
// with no session active it is a no-op success.
func (o *Orchestrator) KillSession() error {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	if err := o.ctl.Stop(); err != nil && !errors.Is(err, bridge.ErrNotRunning) {
		log.Warn("session stop during kill failed", "error", err)
	}
	o.resumeCompensating()
	o.ctl.SetTarget("")
	log.Info("session killed, cameras resumed")
	return nil
}

// Status reports the control session state for the status endpoint.
func (o *Orchestrator) Status() (running bool, lastTarget string) {
	return o.ctl.IsRunning(), o.ctl.LastTarget()
}

// LastTurn returns the most recent command and decision, for the
// pick-target query used by the arm pipeline.
func (o *Orchestrator) LastTurn() (command string, decision intent.Decision) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.lastCommand, o.lastDecision
}

func (o *Orchestrator) recordTurn(command string, d intent.Decision) {
	o.stateMu.Lock()
	o.lastCommand = command
	o.lastDecision = d
	o.stateMu.Unlock()
}

package bridge

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeProc is a scriptable Process.
type fakeProc struct {
	mu          sync.Mutex
	stdin       strings.Builder
	inputClosed bool
	terminated  bool
	killed      bool

	outR *io.PipeReader
	outW *io.PipeWriter

	exitCh   chan struct{}
	exitOnce sync.Once

	// Behaviour knobs
	exitOnTerm bool
	termErr    error
	killErr    error
	killHangs  bool
}

func newFakeProc() *fakeProc {
	r, w := io.Pipe()
	return &fakeProc{outR: r, outW: w, exitCh: make(chan struct{}), exitOnTerm: true}
}

func (p *fakeProc) exit() {
	p.exitOnce.Do(func() {
		close(p.exitCh)
		p.outW.Close()
	})
}

func (p *fakeProc) PID() int { return 4242 }

func (p *fakeProc) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inputClosed {
		return 0, errors.New("stdin closed")
	}
	return p.stdin.Write(b)
}

func (p *fakeProc) CloseInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputClosed = true
	return nil
}

func (p *fakeProc) Output() io.Reader { return p.outR }

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	if p.termErr != nil {
		return p.termErr
	}
	if p.exitOnTerm {
		p.exit()
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	if p.killErr != nil {
		return p.killErr
	}
	if !p.killHangs {
		p.exit()
	}
	return nil
}

func (p *fakeProc) Wait() error {
	<-p.exitCh
	return nil
}

func (p *fakeProc) Exited() bool {
	select {
	case <-p.exitCh:
		return true
	default:
		return false
	}
}

func (p *fakeProc) stdinString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin.String()
}

type fakeLauncher struct {
	mu       sync.Mutex
	argv     []string
	launches int
	proc     *fakeProc
	err      error
}

func (l *fakeLauncher) Launch(argv []string) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.argv = argv
	if l.err != nil {
		return nil, l.err
	}
	return l.proc, nil
}

func testParams() Params {
	return Params{
		Task:          "Grab the Nut",
		EpisodeTimeS:  3600,
		RepoID:        "jakkii/eval_scrapple",
		PolicyPath:    "outputs/train/scrapple_model_4",
		RobotType:     "so101_follower",
		RobotPort:     "COM24",
		RobotID:       "my_awesome_follower_arm",
		CamerasConfig: "{front: {type: opencv, index_or_path: 2}}",
	}
}

func TestStart(t *testing.T) {
	l := &fakeLauncher{proc: newFakeProc()}
	b := New(l, time.Second)

	if err := b.Start(testParams()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !b.IsRunning() {
		t.Error("expected running after start")
	}
	if b.State() != StateRunning {
		t.Errorf("state = %v, want running", b.State())
	}

	id, startedAt, ok := b.Session()
	if !ok || id == "" {
		t.Error("expected session identity")
	}
	if startedAt.IsZero() {
		t.Error("expected session start timestamp")
	}

	cmd := strings.Join(l.argv, " ")
	for _, want := range []string{
		"lerobot.record",
		"--robot.type=so101_follower",
		"--dataset.single_task=Grab the Nut",
		"--policy.path=outputs/train/scrapple_model_4",
	} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command missing %q: %s", want, cmd)
		}
	}
}

func TestStartWhileRunning(t *testing.T) {
	l := &fakeLauncher{proc: newFakeProc()}
	b := New(l, time.Second)
	if err := b.Start(testParams()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, before, _ := b.Session()

	if err := b.Start(testParams()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if l.launches != 1 {
		t.Errorf("second start must not launch, launches = %d", l.launches)
	}
	if _, after, _ := b.Session(); !after.Equal(before) {
		t.Error("existing session timestamp must not change")
	}
}

func TestStartLaunchFailure(t *testing.T) {
	l := &fakeLauncher{err: errors.New("no python")}
	b := New(l, time.Second)

	if err := b.Start(testParams()); err == nil {
		t.Fatal("expected launch error")
	}
	if b.State() != StateIdle {
		t.Errorf("state after launch failure = %v, want idle", b.State())
	}
	// Launch failure is surfaced, not retried; a later start is allowed.
	l.err = nil
	l.proc = newFakeProc()
	if err := b.Start(testParams()); err != nil {
		t.Errorf("restart after failure: %v", err)
	}
}

func TestConfirm(t *testing.T) {
	proc := newFakeProc()
	b := New(&fakeLauncher{proc: proc}, time.Second)

	if err := b.Confirm(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("confirm with no session: got %v, want ErrNotRunning", err)
	}

	b.Start(testParams())
	if err := b.Confirm(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := proc.stdinString(); got != "\n" {
		t.Errorf("stdin = %q, want single newline", got)
	}
}

func TestSend(t *testing.T) {
	proc := newFakeProc()
	b := New(&fakeLauncher{proc: proc}, time.Second)
	b.Start(testParams())

	if err := b.Send("rerecord"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := proc.stdinString(); got != "rerecord\n" {
		t.Errorf("stdin = %q", got)
	}
}

func TestStopGraceful(t *testing.T) {
	proc := newFakeProc()
	b := New(&fakeLauncher{proc: proc}, time.Second)
	b.Start(testParams())

	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if b.State() != StateIdle {
		t.Errorf("state = %v, want idle", b.State())
	}
	if b.IsRunning() {
		t.Error("expected not running")
	}
	if !proc.terminated {
		t.Error("expected graceful terminate")
	}
	if proc.killed {
		t.Error("graceful exit must not escalate to kill")
	}
	if !proc.inputClosed {
		t.Error("expected stdin closed")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	proc := newFakeProc()
	proc.exitOnTerm = false // ignores SIGTERM
	b := New(&fakeLauncher{proc: proc}, 50*time.Millisecond)
	b.Start(testParams())

	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !proc.killed {
		t.Error("expected kill after stop timeout")
	}
	if b.State() != StateIdle {
		t.Errorf("state = %v, want idle", b.State())
	}
}

func TestStopAlwaysEndsIdle(t *testing.T) {
	// Worst case: terminate errors, kill errors, process never exits.
	proc := newFakeProc()
	proc.exitOnTerm = false
	proc.termErr = errors.New("terminate failed")
	proc.killErr = errors.New("kill failed")
	b := New(&fakeLauncher{proc: proc}, 50*time.Millisecond)
	b.Start(testParams())

	if err := b.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if b.State() != StateIdle {
		t.Errorf("state = %v, want idle even when kill fails", b.State())
	}
	if b.IsRunning() {
		t.Error("expected not running")
	}
}

func TestStopNoSession(t *testing.T) {
	b := New(&fakeLauncher{}, time.Second)
	if err := b.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestExitedProcessReadsNotRunning(t *testing.T) {
	proc := newFakeProc()
	b := New(&fakeLauncher{proc: proc}, time.Second)
	b.Start(testParams())

	proc.exit()
	if b.IsRunning() {
		t.Error("exited process must read as not running")
	}
	if err := b.Confirm(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("confirm on exited process: got %v, want ErrNotRunning", err)
	}
}

func TestCrashDetection(t *testing.T) {
	proc := newFakeProc()
	b := New(&fakeLauncher{proc: proc}, time.Second)
	b.Start(testParams())

	// Output stream closing is the crash signal.
	proc.outW.Write([]byte("Traceback (most recent call last):\n"))
	proc.exit()

	deadline := time.Now().Add(time.Second)
	for b.State() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("bridge did not reset after crash, state = %v", b.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	out := b.Output()
	if len(out) == 0 || !strings.Contains(out[0], "Traceback") {
		t.Errorf("expected crash output captured, got %v", out)
	}

	// A fresh session may start after the crash reset.
	if err := b.Start(testParams()); err != nil {
		t.Errorf("restart after crash: %v", err)
	}
}

func TestOutputBufferBounded(t *testing.T) {
	b := New(&fakeLauncher{}, time.Second)
	for i := 0; i < maxOutputLines+50; i++ {
		b.appendOutput("line")
	}
	if got := len(b.Output()); got != maxOutputLines {
		t.Errorf("output lines = %d, want %d", got, maxOutputLines)
	}
}

func TestTargetMetadata(t *testing.T) {
	b := New(&fakeLauncher{}, time.Second)
	if got := b.LastTarget(); got != "" {
		t.Errorf("initial target = %q, want empty", got)
	}
	b.SetTarget("skull")
	if got := b.LastTarget(); got != "skull" {
		t.Errorf("target = %q, want skull", got)
	}
	b.SetTarget("")
	if got := b.LastTarget(); got != "" {
		t.Errorf("target after reset = %q, want empty", got)
	}
}

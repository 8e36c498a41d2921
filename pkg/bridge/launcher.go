package bridge

import (
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"
	"syscall"
)

// Process is a launched control process. It abstracts os/exec so the
// bridge's supervision logic can be exercised against fakes.
type Process interface {
	// PID returns the operating system process id.
	PID() int

	// Write sends bytes to the process's stdin.
	Write(p []byte) (int, error)

	// CloseInput closes stdin, signalling no further commands.
	CloseInput() error

	// Output returns the combined stdout/stderr stream.
	Output() io.Reader

	// Terminate requests graceful shutdown (SIGTERM).
	Terminate() error

	// Kill forcibly ends the process.
	Kill() error

	// Wait blocks until the process exits.
	Wait() error

	// Exited reports whether the process has exited, without blocking.
	Exited() bool
}

// Launcher starts control processes.
type Launcher interface {
	Launch(argv []string) (Process, error)
}

// ExecLauncher launches real processes via os/exec.
type ExecLauncher struct{}

// Launch starts argv with stdin piped and stdout/stderr combined.
func (ExecLauncher) Launch(argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("launch: empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("launch: stdin pipe: %w", err)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pw.Close()
		return nil, fmt.Errorf("launch %q: %w", argv[0], err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		out:    pr,
		waited: make(chan struct{}),
	}

	// Reap the process as soon as it exits so Exited() reflects reality
	// even when nobody is blocked in Wait.
	go func() {
		p.waitErr = cmd.Wait()
		pw.Close()
		p.exited.Store(true)
		close(p.waited)
	}()

	return p, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	out     io.Reader
	exited  atomic.Bool
	waited  chan struct{}
	waitErr error
}

func (p *execProcess) PID() int                    { return p.cmd.Process.Pid }
func (p *execProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *execProcess) CloseInput() error           { return p.stdin.Close() }
func (p *execProcess) Output() io.Reader           { return p.out }
func (p *execProcess) Exited() bool                { return p.exited.Load() }

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	<-p.waited
	return p.waitErr
}

package authbridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/codefionn/scee/internal/logger"
)

// Process is a running auth worker reachable over a byte channel
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process has exited
	Wait() error
	Kill() error
}

// Launcher starts a fresh worker process
type Launcher func(ctx context.Context) (Process, error)

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
	stderrW *io.PipeWriter
}

// ExecLauncher starts path with args as the worker. The worker's stderr is
// forwarded line by line into the server log.
func ExecLauncher(path string, args ...string) Launcher {
	return func(ctx context.Context) (Process, error) {
		// Not tied to ctx: the bridge decides when the worker dies.
		cmd := exec.Command(path, args...)
		cmd.Env = os.Environ()

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}

		stderrR, stderrW := io.Pipe()
		cmd.Stderr = stderrW

		if err := cmd.Start(); err != nil {
			stderrW.Close()
			return nil, fmt.Errorf("failed to start auth worker: %w", err)
		}
		logger.Info("auth worker started (pid=%d)", cmd.Process.Pid)

		go forwardStderr(stderrR)

		return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderrW: stderrW}, nil
	}
}

func forwardStderr(r io.Reader) {
	log := logger.Global().WithPrefix("auth-worker")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Info("%s", scanner.Text())
	}
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	p.stderrW.Close()
	return err
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	logger.Warn("killing auth worker (pid=%d)", p.cmd.Process.Pid)
	return p.cmd.Process.Kill()
}

package authbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/codefionn/scee/internal/authworker"
	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/securemem"
)

// workerHandle is one spawned worker process and the goroutine reading its
// responses
type workerHandle struct {
	proc      Process
	responses chan authworker.Response
	exited    chan struct{}
	exitErr   error
}

func spawnWorker(ctx context.Context, launch Launcher) (*workerHandle, error) {
	proc, err := launch(ctx)
	if err != nil {
		return nil, err
	}

	w := &workerHandle{
		proc:      proc,
		responses: make(chan authworker.Response, 8),
		exited:    make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

// readLoop decodes responses until the worker's stdout closes, then reaps
// the process
func (w *workerHandle) readLoop() {
	defer close(w.exited)

	scanner := bufio.NewScanner(w.proc.Stdout())
	scanner.Buffer(make([]byte, consts.BufferSize4KB), consts.MaxFrameSize)
	for scanner.Scan() {
		var resp authworker.Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			logger.Warn("auth bridge: malformed worker response: %v", err)
			// An id-less error fails whatever request is in flight
			resp = authworker.Response{Status: authworker.StatusError, Message: authworker.MsgMalformedRequest}
		}

		select {
		case w.responses <- resp:
		default:
			logger.Warn("auth bridge: dropping unsolicited worker response %q", resp.ID)
		}
	}

	w.exitErr = w.proc.Wait()
	if w.exitErr != nil {
		logger.Warn("auth worker exited: %v", w.exitErr)
	} else {
		logger.Info("auth worker exited")
	}
}

func (w *workerHandle) alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

func (w *workerHandle) send(req authworker.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode worker request: %w", err)
	}
	data = append(data, '\n')
	_, err = w.proc.Stdin().Write(data)
	securemem.Wipe(data)
	if err != nil {
		return fmt.Errorf("failed to write worker request: %w", err)
	}
	return nil
}

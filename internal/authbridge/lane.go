package authbridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codefionn/scee/internal/actor"
	"github.com/codefionn/scee/internal/authworker"
	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/securemem"
)

// callRequest asks the lane for one worker round trip
type callRequest struct {
	command  string
	user     string
	password *securemem.String
	deadline time.Time
	reply    chan<- callResult
}

func (*callRequest) Type() string { return "worker_call" }

type callResult struct {
	resp authworker.Response
	err  error
}

// lane is the actor that owns the worker. Its mailbox is the bounded queue
// of pending calls and its run loop guarantees one outstanding request.
type lane struct {
	id      string
	launch  Launcher
	grace   time.Duration
	metrics *metrics.Metrics
	log     *logger.Logger

	// current is written only on the actor goroutine
	current  atomic.Pointer[workerHandle]
	spawns   atomic.Int64
	kills    atomic.Int64
	stale    atomic.Int64
	timeouts atomic.Int64
}

func newLane(id string, launch Launcher, grace time.Duration, m *metrics.Metrics) *lane {
	return &lane{
		id:      id,
		launch:  launch,
		grace:   grace,
		metrics: m,
		log:     logger.Global().WithPrefix("bridge"),
	}
}

func (l *lane) ID() string { return l.id }

func (l *lane) Start(ctx context.Context) error { return nil }

// Stop asks the worker to exit, then kills it after the grace period
func (l *lane) Stop(ctx context.Context) error {
	w := l.current.Swap(nil)
	if w == nil {
		return nil
	}
	defer w.proc.Stdin().Close()

	if w.alive() {
		if err := w.send(authworker.Request{ID: uuid.NewString(), Command: authworker.CommandShutdown}); err != nil {
			l.log.Warn("failed to send shutdown to auth worker: %v", err)
		}
	}

	grace := time.NewTimer(l.grace)
	defer grace.Stop()

	select {
	case <-w.exited:
		return nil
	case <-grace.C:
		l.log.Warn("auth worker did not exit within %s", l.grace)
	case <-ctx.Done():
	}

	if err := w.proc.Kill(); err != nil {
		l.log.Error("failed to kill auth worker: %v", err)
	}

	select {
	case <-w.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lane) Receive(ctx context.Context, msg actor.Message) error {
	req, ok := msg.(*callRequest)
	if !ok {
		return fmt.Errorf("unexpected message %s", msg.Type())
	}
	defer req.password.Destroy()

	resp, err := l.call(ctx, req)
	req.reply <- callResult{resp: resp, err: err}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// CustomMetrics adds worker state to the lane's health report
func (l *lane) CustomMetrics() interface{} {
	return map[string]interface{}{
		"worker_alive":     l.workerAlive(),
		"worker_spawns":    l.spawns.Load(),
		"worker_kills":     l.kills.Load(),
		"stale_responses":  l.stale.Load(),
		"request_timeouts": l.timeouts.Load(),
	}
}

func (l *lane) workerAlive() bool {
	w := l.current.Load()
	return w != nil && w.alive()
}

// ensureWorker returns a live worker, spawning one if the previous exited
func (l *lane) ensureWorker(ctx context.Context) (*workerHandle, error) {
	if w := l.current.Load(); w != nil {
		if w.alive() {
			return w, nil
		}
		l.log.Warn("auth worker is gone, respawning")
		l.retire(w)
	}

	w, err := spawnWorker(ctx, l.launch)
	if err != nil {
		l.current.Store(nil)
		return nil, fmt.Errorf("%w: %v", ErrWorkerUnavailable, err)
	}
	l.current.Store(w)
	l.spawns.Add(1)
	l.metrics.WorkerSpawned()
	return w, nil
}

func (l *lane) call(ctx context.Context, req *callRequest) (authworker.Response, error) {
	var none authworker.Response

	if !time.Now().Before(req.deadline) {
		l.timeouts.Add(1)
		return none, fmt.Errorf("%w: expired while queued", ErrTimeout)
	}

	w, err := l.ensureWorker(ctx)
	if err != nil {
		return none, err
	}

	wireReq := authworker.Request{ID: uuid.NewString(), Command: req.command, User: req.user}
	req.password.WithBytes(func(b []byte) {
		wireReq.Password = string(b)
	})
	err = w.send(wireReq)
	wireReq.Password = ""
	if err != nil {
		l.log.Error("auth worker write failed: %v", err)
		l.retire(w)
		return none, fmt.Errorf("%w: %v", ErrWorkerUnavailable, err)
	}

	timer := time.NewTimer(time.Until(req.deadline))
	defer timer.Stop()

	for {
		select {
		case resp := <-w.responses:
			if done, result, err := l.match(wireReq.ID, resp); done {
				return result, err
			}

		case <-w.exited:
			// Responses written just before exit are still buffered
			for drained := false; !drained; {
				select {
				case resp := <-w.responses:
					if done, result, err := l.match(wireReq.ID, resp); done {
						return result, err
					}
				default:
					drained = true
				}
			}
			return none, fmt.Errorf("%w: worker exited mid-request", ErrWorkerUnavailable)

		case <-timer.C:
			// A worker that misses the deadline may be wedged, so it is
			// replaced before the next request
			l.timeouts.Add(1)
			l.log.Warn("auth worker did not answer within the request timeout, replacing it")
			l.retire(w)
			if _, err := l.ensureWorker(ctx); err != nil {
				l.log.Error("failed to replace auth worker: %v", err)
			}
			return none, ErrTimeout

		case <-ctx.Done():
			return none, ctx.Err()
		}
	}
}

// retire closes the worker's stdin, kills it if it still runs, and drops it
// as the current worker
func (l *lane) retire(w *workerHandle) {
	_ = w.proc.Stdin().Close()
	if w.alive() {
		if err := w.proc.Kill(); err != nil {
			l.log.Error("failed to kill auth worker: %v", err)
		}
		l.kills.Add(1)
	}
	l.current.CompareAndSwap(w, nil)
}

// match reports whether resp settles the request with id
func (l *lane) match(id string, resp authworker.Response) (bool, authworker.Response, error) {
	switch resp.ID {
	case id:
		return true, resp, nil
	case "":
		return true, authworker.Response{}, fmt.Errorf("%w: %s", ErrProtocol, resp.Message)
	default:
		l.stale.Add(1)
		l.log.Warn("discarding stale auth worker response %s", resp.ID)
		return false, authworker.Response{}, nil
	}
}

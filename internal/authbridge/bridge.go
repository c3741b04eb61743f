// Package authbridge puts credential checks behind a single call while the
// actual verification runs in a separate worker process.
//
// All calls go through one actor lane: the mailbox bounds how many logins
// may wait, and the lane keeps at most one request outstanding on the
// worker channel. Each request carries a fresh id that the worker echoes,
// so a late answer to an abandoned request is recognized and discarded.
package authbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/scee/internal/actor"
	"github.com/codefionn/scee/internal/authworker"
	"github.com/codefionn/scee/internal/consts"
	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/protocol"
	"github.com/codefionn/scee/internal/securemem"
)

var (
	// ErrWorkerUnavailable means the worker could not be started or died
	ErrWorkerUnavailable = errors.New("auth worker unavailable")
	// ErrBusy means too many logins are already waiting
	ErrBusy = errors.New("auth queue is full")
	// ErrStopped means the bridge has been shut down
	ErrStopped = errors.New("auth bridge stopped")
	// ErrTimeout means no verdict arrived within the request timeout
	ErrTimeout = errors.New("auth request timed out")
	// ErrProtocol means the worker answered with something uncorrelatable
	ErrProtocol = errors.New("auth worker protocol error")
	// ErrRejected means the worker refused the credentials
	ErrRejected = errors.New("credentials rejected")
)

const laneID = "auth-bridge"

// Options configures a Bridge
type Options struct {
	QueueSize      int
	RequestTimeout time.Duration
	ShutdownGrace  time.Duration
	Metrics        *metrics.Metrics
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = consts.DefaultAuthQueueSize
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = consts.Timeout10Seconds
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = consts.Timeout2Seconds
	}
}

// Bridge mediates credential checks to the auth worker
type Bridge struct {
	opts Options
	lane *lane
	ref  *actor.ActorRef

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a bridge that starts workers with launch
func New(launch Launcher, opts Options) *Bridge {
	opts.applyDefaults()
	l := newLane(laneID, launch, opts.ShutdownGrace, opts.Metrics)
	return &Bridge{
		opts: opts,
		lane: l,
		ref:  actor.NewActorRef(laneID, l, opts.QueueSize),
	}
}

// Start launches the lane and the worker, and waits until the worker answers
// a ping.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("auth bridge already started")
	}
	b.started = true
	b.mu.Unlock()

	if err := b.ref.Start(ctx); err != nil {
		return fmt.Errorf("failed to start auth lane: %w", err)
	}

	if err := b.Ping(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), b.opts.ShutdownGrace*2)
		defer cancel()
		_ = b.Stop(stopCtx)
		return fmt.Errorf("auth worker not ready: %w", err)
	}
	return nil
}

// Stop shuts the worker down. Calls after the first, or before Start,
// return nil.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	b.mu.Unlock()

	return b.ref.Stop(ctx)
}

// Authenticate checks user and password with the worker. The bridge takes
// ownership of password and destroys it once the request is settled.
// Rejected credentials yield an error wrapping ErrRejected.
func (b *Bridge) Authenticate(ctx context.Context, user string, password *securemem.String) (*protocol.User, error) {
	started := time.Now()
	resp, err := b.call(ctx, authworker.CommandAuth, user, password)
	if err != nil {
		b.observe(started, err)
		return nil, err
	}

	if !resp.OK() {
		if resp.Message == authworker.MsgInvalidCredentials {
			err = fmt.Errorf("%w: %s", ErrRejected, resp.Message)
		} else {
			err = fmt.Errorf("auth worker error: %s", resp.Message)
		}
		b.observe(started, err)
		return nil, err
	}
	if resp.UserData == nil {
		err = fmt.Errorf("%w: ok response without user data", ErrProtocol)
		b.observe(started, err)
		return nil, err
	}

	b.observe(started, nil)
	return resp.UserData, nil
}

// Ping round-trips a ping through the worker
func (b *Bridge) Ping(ctx context.Context) error {
	resp, err := b.call(ctx, authworker.CommandPing, "", nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("auth worker ping failed: %s", resp.Message)
	}
	return nil
}

// Health returns the lane's health report, including worker state. The
// report is produced by the lane itself, so a lane that cannot get to it
// within one request timeout is reported unhealthy.
func (b *Bridge) Health(ctx context.Context) actor.HealthReport {
	return b.ref.CheckHealth(ctx, b.opts.RequestTimeout+consts.Timeout1Second)
}

// WorkerAlive reports whether a worker process is currently running
func (b *Bridge) WorkerAlive() bool {
	return b.lane.workerAlive()
}

func (b *Bridge) call(ctx context.Context, command, user string, password *securemem.String) (authworker.Response, error) {
	deadline := time.Now().Add(b.opts.RequestTimeout)

	res, err := actor.Ask(ctx, b.ref, b.opts.RequestTimeout, func(reply chan<- callResult) actor.Message {
		return &callRequest{
			command:  command,
			user:     user,
			password: password,
			deadline: deadline,
			reply:    reply,
		}
	})
	switch {
	case errors.Is(err, actor.ErrMailboxFull):
		password.Destroy()
		return authworker.Response{}, ErrBusy
	case errors.Is(err, actor.ErrStopped):
		password.Destroy()
		return authworker.Response{}, ErrStopped
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return authworker.Response{}, err
	case err != nil:
		return authworker.Response{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return res.resp, res.err
}

func (b *Bridge) observe(started time.Time, err error) {
	result := metrics.AuthOK
	switch {
	case err == nil:
	case errors.Is(err, ErrRejected):
		result = metrics.AuthRejected
	case errors.Is(err, ErrBusy):
		result = metrics.AuthBusy
	default:
		result = metrics.AuthError
	}
	b.opts.Metrics.AuthResult(result, time.Since(started).Seconds())
}

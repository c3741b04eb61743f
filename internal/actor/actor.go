// Package actor is a small mailbox actor runtime. Each actor processes its
// messages one at a time on its own goroutine, which makes it a bounded,
// single-flight execution lane for blocking work.
package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codefionn/scee/internal/logger"
)

var (
	// ErrMailboxFull is returned by Send when the mailbox has no free slot
	ErrMailboxFull = errors.New("mailbox is full")
	// ErrStopped is returned by Send after Stop
	ErrStopped = errors.New("actor is stopped")
)

// Message represents a message sent to an actor
type Message interface {
	Type() string
}

// Actor is the behaviour behind an ActorRef
type Actor interface {
	// Receive processes one message. Errors are logged and recorded in the
	// actor's health report; they never stop the actor.
	Receive(ctx context.Context, msg Message) error
	// Start runs before the first message
	Start(ctx context.Context) error
	// Stop runs after the last message
	Stop(ctx context.Context) error
	// ID returns the actor's unique identifier
	ID() string
}

// ActorRef owns an actor's mailbox and run loop
type ActorRef struct {
	id      string
	mailbox chan Message
	actor   Actor
	health  *HealthCheckable

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewActorRef creates a reference with a mailbox of mailboxSize slots
func NewActorRef(id string, actor Actor, mailboxSize int) *ActorRef {
	mailbox := make(chan Message, mailboxSize)

	var metricsProvider func() interface{}
	if mp, ok := actor.(MetricsProvider); ok {
		metricsProvider = mp.CustomMetrics
	}

	return &ActorRef{
		id:      id,
		actor:   actor,
		mailbox: mailbox,
		health:  NewHealthCheckable(id, mailbox, metricsProvider),
	}
}

// ID returns the actor's ID
func (ref *ActorRef) ID() string {
	return ref.id
}

// Send enqueues msg without blocking
func (ref *ActorRef) Send(msg Message) error {
	ref.mu.RLock()
	defer ref.mu.RUnlock()

	if ref.stopped {
		return fmt.Errorf("actor %s: %w", ref.id, ErrStopped)
	}

	select {
	case ref.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("actor %s: %w", ref.id, ErrMailboxFull)
	}
}

// Start calls the actor's Start and launches the run loop
func (ref *ActorRef) Start(ctx context.Context) error {
	ref.mu.Lock()
	defer ref.mu.Unlock()

	if ref.started {
		return fmt.Errorf("actor %s already started", ref.id)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := ref.actor.Start(ctx); err != nil {
		cancel()
		return err
	}

	ref.cancel = cancel
	ref.started = true
	ref.health.MarkStarted()

	ref.wg.Add(1)
	go ref.run(ctx)
	return nil
}

// Stop cancels the run loop, waits for the in-flight message, and then calls
// the actor's Stop. Messages still queued are dropped. Calling Stop more than
// once is a no-op.
func (ref *ActorRef) Stop(ctx context.Context) error {
	ref.mu.Lock()
	if ref.stopped {
		ref.mu.Unlock()
		return nil
	}
	ref.stopped = true
	started := ref.started
	ref.mu.Unlock()

	if !started {
		return nil
	}

	ref.cancel()

	done := make(chan struct{})
	go func() {
		ref.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return ref.actor.Stop(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health returns the current health report
func (ref *ActorRef) Health() HealthReport {
	return ref.health.GenerateHealthReport()
}

func (ref *ActorRef) run(ctx context.Context) {
	defer ref.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ref.mailbox:
			ref.health.RecordActivity()

			if req, ok := msg.(HealthCheckRequest); ok {
				ref.health.Respond(ctx, req)
				continue
			}

			if err := ref.receive(ctx, msg); err != nil {
				logger.Error("Actor %s error processing %s: %v", ref.id, msg.Type(), err)
				ref.health.RecordError(err)
			}
		}
	}
}

// receive isolates a panicking Receive so the lane keeps running
func (ref *ActorRef) receive(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", msg.Type(), r)
			logger.Error("Actor %s panic: %v\n%s", ref.id, r, debug.Stack())
		}
	}()
	return ref.actor.Receive(ctx, msg)
}

// Ask sends a request built around a fresh reply channel and waits for the
// reply, the context, or the timeout, whichever comes first.
func Ask[T any](ctx context.Context, ref *ActorRef, timeout time.Duration, build func(reply chan<- T) Message) (T, error) {
	var zero T
	reply := make(chan T, 1)

	if err := ref.Send(build(reply)); err != nil {
		return zero, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, fmt.Errorf("actor %s: no reply within %s", ref.id, timeout)
	}
}

// CheckHealth asks the run loop itself for a health report. A loop that does not
// answer within timeout, or a mailbox with no free slot, is reported as
// unhealthy on top of the tracked metrics.
func (ref *ActorRef) CheckHealth(ctx context.Context, timeout time.Duration) HealthReport {
	report, err := Ask(ctx, ref, timeout, func(reply chan<- HealthReport) Message {
		return HealthCheckRequest{ResponseChan: reply}
	})
	if err == nil {
		return report
	}

	report = ref.Health()
	report.Status = HealthStatusUnhealthy
	report.Message = fmt.Sprintf("health check not answered: %v", err)
	return report
}

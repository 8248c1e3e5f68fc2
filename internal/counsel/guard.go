package counsel

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	// DefaultCounselTimeout bounds a whole counselling stream.
	DefaultCounselTimeout = 60 * time.Second
	// DefaultSimpleTimeout bounds plain request/response calls to the other collaborators.
	DefaultSimpleTimeout = 15 * time.Second
)

// State is the lifecycle position of a Guard.
type State int32

const (
	StateIdle State = iota
	StatePending
	StateCompleted
	StateTimedOut
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Guard bounds one request with a deadline and lets the caller abort it.
// A guard is single-use: once it leaves Idle it never returns there.
type Guard struct {
	timeout time.Duration

	mu     sync.Mutex
	state  State
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
}

// NewGuard creates an idle guard. A non-positive timeout selects DefaultCounselTimeout.
func NewGuard(timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = DefaultCounselTimeout
	}
	return &Guard{timeout: timeout}
}

// Timeout returns the guard's deadline budget.
func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// Start moves the guard from Idle to Pending and returns the context the request must use.
// A guard cancelled before it started returns ErrCancelled.
func (g *Guard) Start(parent context.Context) (context.Context, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateIdle:
	case StateCancelled:
		return nil, ErrCancelled
	default:
		return nil, ErrGuardReused
	}

	ctx, cancel := context.WithCancelCause(parent)
	ctx, stop := context.WithTimeoutCause(ctx, g.timeout, ErrTimeout)
	g.ctx, g.cancel, g.stop = ctx, cancel, stop
	g.state = StatePending
	return ctx, nil
}

// Cancel aborts the request. The transport is torn down and the guard ends in
// Cancelled. Cancelling a guard that already finished has no effect.
func (g *Guard) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateIdle:
		g.state = StateCancelled
	case StatePending:
		g.state = StateCancelled
		g.cancel(ErrCancelled)
	}
}

// Cancelled reports whether the caller aborted the request.
func (g *Guard) Cancelled() bool {
	return g.State() == StateCancelled
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Finish records how the request ended and releases the guard's timer.
// err is the request's final error, nil on a clean end of stream.
func (g *Guard) Finish(err error) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.Terminal() {
		g.state = g.classify(err)
	}
	if g.stop != nil {
		g.stop()
		g.cancel(context.Canceled)
	}
	return g.state
}

// Err maps a transport error observed while the guard was pending onto the
// public taxonomy: a *RemoteError of kind timeout, or ErrCancelled.
func (g *Guard) Err(err error) error {
	if err == nil {
		return nil
	}

	g.mu.Lock()
	cancelled := g.state == StateCancelled
	ctx := g.ctx
	g.mu.Unlock()

	if cancelled {
		return ErrCancelled
	}
	if ctx == nil {
		return err
	}
	switch cause := context.Cause(ctx); {
	case cause == nil:
		return err
	case errors.Is(cause, ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		return &RemoteError{Kind: KindTimeout, Err: ErrTimeout}
	default:
		return ErrCancelled
	}
}

func (g *Guard) classify(err error) State {
	if err == nil {
		return StateCompleted
	}

	var cause error
	if g.ctx != nil {
		cause = context.Cause(g.ctx)
	}
	switch {
	case IsTimeout(err), errors.Is(cause, ErrTimeout), errors.Is(cause, context.DeadlineExceeded):
		return StateTimedOut
	case IsCancelled(err), cause != nil:
		return StateCancelled
	default:
		return StateErrored
	}
}

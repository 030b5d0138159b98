package bedrock

import (
	"context"
	"sync"
	"sync/atomic"
)

// broadcaster is anything that can wake all of its waiters. Every Condition
// and blocking primitive registers itself with the RuntimeState so a quit or
// failure reaches every blocked goroutine.
type broadcaster interface {
	Broadcast()
}

// RuntimeState holds the run-wide quit and error flags. One instance is
// created per run and shared by every managed goroutine.
//
// Flags are read without locking and written under mu, after which every
// registered broadcaster is woken. Error implies Quit. Neither flag is ever
// cleared.
type RuntimeState struct {
	quit   atomic.Bool
	failed atomic.Bool

	mu      sync.Mutex
	cause   error
	waiters []broadcaster

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewRuntimeState returns a fresh run state.
func NewRuntimeState() *RuntimeState {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &RuntimeState{ctx: ctx, cancel: cancel}
}

// QuitRequested reports whether the run is winding down, cleanly or not.
func (r *RuntimeState) QuitRequested() bool { return r.quit.Load() }

// Failed reports whether a fatal error was raised.
func (r *RuntimeState) Failed() bool { return r.failed.Load() }

// Err returns the first failure cause, or nil for a clean run.
func (r *RuntimeState) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// Context is cancelled as soon as the quit flag is set. Its cause is the
// first failure, or ErrQuit.
func (r *RuntimeState) Context() context.Context { return r.ctx }

// Quit requests a clean shutdown.
func (r *RuntimeState) Quit() {
	r.mu.Lock()
	if r.quit.Load() {
		r.mu.Unlock()
		return
	}
	r.quit.Store(true)
	r.mu.Unlock()
	r.cancel(ErrQuit)
	r.sweep()
}

// Fail records err as fatal. Only the first cause is kept; later calls still
// re-run the wake-up sweep.
func (r *RuntimeState) Fail(err error) {
	if err == nil {
		err = ErrStopped
	}
	r.mu.Lock()
	if r.cause == nil {
		r.cause = err
	}
	r.failed.Store(true)
	r.quit.Store(true)
	r.mu.Unlock()
	r.cancel(err)
	r.sweep()
}

func (r *RuntimeState) register(b broadcaster) {
	r.mu.Lock()
	r.waiters = append(r.waiters, b)
	r.mu.Unlock()
}

// sweep wakes every registered waiter. It never runs under mu so a waiter's
// own lock is never taken while the runtime lock is held.
func (r *RuntimeState) sweep() {
	r.mu.Lock()
	ws := make([]broadcaster, len(r.waiters))
	copy(ws, r.waiters)
	r.mu.Unlock()
	for _, w := range ws {
		w.Broadcast()
	}
}

package bedrock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LockMode selects how the update and render goroutines share the stack.
type LockMode uint8

const (
	// LockMutex is a fair, FIFO mutual-exclusion lock. Either side may take
	// the stack several times in a row.
	LockMutex LockMode = iota
	// LockTurns forces strict alternation: update, render, update, ...
	LockTurns
)

func (m LockMode) String() string {
	if m == LockTurns {
		return "turns"
	}
	return "mutex"
}

// MarshalText implements encoding.TextMarshaler.
func (m LockMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *LockMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "mutex":
		*m = LockMutex
	case "turns", "latch":
		*m = LockTurns
	default:
		return configErrorf("unknown stack lock mode %q", string(b))
	}
	return nil
}

// StackLocker is one goroutine's side of the stack lock. Lock blocks until
// the stack is available or ctx is done.
type StackLocker interface {
	Lock(ctx context.Context) error
	Unlock()
}

// fairLock is a weighted semaphore of one; waiters are served in arrival
// order.
type fairLock struct {
	sem *semaphore.Weighted
}

func newFairLock() *fairLock { return &fairLock{sem: semaphore.NewWeighted(1)} }

func (l *fairLock) Lock(ctx context.Context) error { return l.sem.Acquire(ctx, 1) }
func (l *fairLock) Unlock()                        { l.sem.Release(1) }

// turnLock registers with the latch on first use.
type turnLock struct {
	latch  *CircularLatch
	ticket int

	once   sync.Once
	handle *LatchHandle
	err    error
}

// register takes this side's slot in the ring. It blocks until the other
// side has registered too.
func (l *turnLock) register(ctx context.Context) error {
	l.once.Do(func() {
		l.handle, l.err = l.latch.RequestHandle(ctx, l.ticket)
	})
	return l.err
}

func (l *turnLock) Lock(ctx context.Context) error {
	if err := l.register(ctx); err != nil {
		return err
	}
	return l.handle.Lock(ctx)
}

func (l *turnLock) Unlock() {
	if l.handle != nil {
		l.handle.Unlock()
	}
}

// NewStackLocks returns the update-side and render-side lockers for mode.
// In LockTurns the update side holds the first turn.
func NewStackLocks(rt *RuntimeState, mode LockMode) (update, render StackLocker, err error) {
	switch mode {
	case LockMutex:
		l := newFairLock()
		return l, l, nil
	case LockTurns:
		latch := NewCircularLatch(rt, 2)
		return &turnLock{latch: latch, ticket: 0}, &turnLock{latch: latch, ticket: 1}, nil
	}
	return nil, nil, fmt.Errorf("stack locks: unknown mode %d", mode)
}

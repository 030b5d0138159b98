package bedrock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// CircularLatch hands a shared resource to a fixed set of participants in
// strict cyclic order. Participants register with a ticket; the ring follows
// ticket order and ticket 0 holds the first turn.
//
// Waiting for a turn blocks on a condition variable and can be cancelled
// through the context or by the run shutting down.
type CircularLatch struct {
	size int
	turn atomic.Int32

	mu         sync.Mutex
	cond       *sync.Cond
	registered int
	handles    []*LatchHandle
	rt         *RuntimeState
}

// LatchHandle is one participant's slot in the ring.
type LatchHandle struct {
	latch *CircularLatch
	id    int
	next  int
	held  atomic.Bool
}

// NewCircularLatch creates a latch for n participants. rt may be nil when
// the latch is used outside a run.
func NewCircularLatch(rt *RuntimeState, n int) *CircularLatch {
	if n < 1 {
		n = 1
	}
	l := &CircularLatch{size: n, handles: make([]*LatchHandle, n), rt: rt}
	l.cond = sync.NewCond(&l.mu)
	if rt != nil {
		rt.register(l)
	}
	return l
}

// Size returns the number of participants.
func (l *CircularLatch) Size() int { return l.size }

// Broadcast wakes every goroutine blocked on the latch.
func (l *CircularLatch) Broadcast() {
	l.mu.Lock()
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *CircularLatch) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.rt != nil && l.rt.QuitRequested() {
		return ErrStopped
	}
	return nil
}

// RequestHandle registers the caller under ticket. It blocks until exactly
// ticket participants registered before it, then until all participants
// have registered.
func (l *CircularLatch) RequestHandle(ctx context.Context, ticket int) (*LatchHandle, error) {
	if ticket < 0 || ticket >= l.size {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidTicket, ticket, l.size)
	}
	stop := context.AfterFunc(ctx, l.Broadcast)
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.registered != ticket {
		if l.registered > ticket {
			return nil, fmt.Errorf("%w: %d already taken", ErrInvalidTicket, ticket)
		}
		if err := l.stopped(ctx); err != nil {
			return nil, err
		}
		l.cond.Wait()
	}
	h := &LatchHandle{latch: l, id: ticket, next: (ticket + 1) % l.size}
	l.handles[ticket] = h
	l.registered++
	l.cond.Broadcast()

	for l.registered < l.size {
		if err := l.stopped(ctx); err != nil {
			return nil, err
		}
		l.cond.Wait()
	}
	return h, nil
}

// ID returns the handle's ticket.
func (h *LatchHandle) ID() int { return h.id }

// Locked reports whether this handle currently owns the resource.
func (h *LatchHandle) Locked() bool { return h.held.Load() }

// TryLock takes the resource if it is this handle's turn.
func (h *LatchHandle) TryLock() bool {
	if h.latch.turn.Load() != int32(h.id) {
		return false
	}
	h.held.Store(true)
	return true
}

// Lock blocks until it is this handle's turn.
func (h *LatchHandle) Lock(ctx context.Context) error {
	if h.TryLock() {
		return nil
	}
	l := h.latch
	stop := context.AfterFunc(ctx, l.Broadcast)
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.turn.Load() != int32(h.id) {
		if err := l.stopped(ctx); err != nil {
			return err
		}
		l.cond.Wait()
	}
	h.held.Store(true)
	return nil
}

// Unlock passes the turn to the next participant in the ring. It is a no-op
// when the handle does not hold the resource.
func (h *LatchHandle) Unlock() {
	if !h.held.CompareAndSwap(true, false) {
		return
	}
	l := h.latch
	l.mu.Lock()
	l.turn.Store(int32(h.next))
	l.cond.Broadcast()
	l.mu.Unlock()
}

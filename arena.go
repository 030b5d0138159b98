package bedrock

import (
	"fmt"
	"sync"
)

// ContextHandle is a stable reference to a context owned by a
// ContextManager. A handle outlives its context safely: once the context is
// removed the handle resolves to nil.
type ContextHandle struct {
	index uint32
	gen   uint32
}

// Valid reports whether h was ever issued. It does not check liveness.
func (h ContextHandle) Valid() bool { return h.gen != 0 }

func (h ContextHandle) String() string {
	if !h.Valid() {
		return "ctx(none)"
	}
	return fmt.Sprintf("ctx(%d#%d)", h.index, h.gen)
}

type arenaSlot struct {
	ctx Context
	gen uint32
}

// contextArena stores contexts in generation-checked slots.
type contextArena struct {
	mu    sync.RWMutex
	slots []arenaSlot
	free  []uint32
}

func (a *contextArena) insert(c Context) ContextHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot{})
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.ctx = c
	return ContextHandle{index: idx, gen: s.gen}
}

func (a *contextArena) get(h ContextHandle) Context {
	if !h.Valid() {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if int(h.index) >= len(a.slots) {
		return nil
	}
	s := a.slots[h.index]
	if s.gen != h.gen {
		return nil
	}
	return s.ctx
}

func (a *contextArena) remove(h ContextHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !h.Valid() || int(h.index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.index]
	if s.gen != h.gen || s.ctx == nil {
		return false
	}
	s.ctx = nil
	s.gen++
	a.free = append(a.free, h.index)
	return true
}

func (a *contextArena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots) - len(a.free)
}

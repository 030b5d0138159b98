package bedrock

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ThreadStatus is the lifecycle stage of a managed goroutine. Values are
// ordered; a goroutine only ever moves forward.
type ThreadStatus int8

const (
	StatusNull         ThreadStatus = iota // registered, not spawned
	StatusWaiting                          // spawned, blocked on the start signal
	StatusInitialising                     // released, setting up
	StatusRunning                          // main loop active
	StatusClosing                          // winding down
	StatusStop                             // returned; joinable
)

var threadStatusNames = [...]string{"null", "waiting", "initialising", "running", "closing", "stop"}

func (s ThreadStatus) String() string {
	if s < 0 || int(s) >= len(threadStatusNames) {
		return fmt.Sprintf("ThreadStatus(%d)", int(s))
	}
	return threadStatusNames[s]
}

// ThreadFunc is the body of a managed goroutine. It should call h.Start
// before doing any work and return when h.Good reports false.
type ThreadFunc func(h *ThreadHandler) error

type threadEntry struct {
	name string
	fn   ThreadFunc
}

// ThreadManager spawns the fixed set of managed goroutines, releases them
// together, and joins them.
type ThreadManager struct {
	rt  *RuntimeState
	log zerolog.Logger

	status *Condition[map[string]ThreadStatus]
	start  *Condition[bool]

	mu      sync.Mutex
	threads []threadEntry
	started bool
	group   errgroup.Group
}

// NewThreadManager creates a manager bound to rt.
func NewThreadManager(rt *RuntimeState, log zerolog.Logger) *ThreadManager {
	return &ThreadManager{
		rt:     rt,
		log:    component(log, "threads"),
		status: NewCondition(rt, map[string]ThreadStatus{}),
		start:  NewCondition(rt, false),
	}
}

// Runtime returns the run state shared by every managed goroutine.
func (m *ThreadManager) Runtime() *RuntimeState { return m.rt }

// Register adds a goroutine to be spawned by StartAll.
func (m *ThreadManager) Register(name string, fn ThreadFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("register thread %q: %w", name, ErrStopped)
	}
	for _, t := range m.threads {
		if t.name == name {
			return fmt.Errorf("register thread %q: %w", name, ErrDuplicateThread)
		}
	}
	m.threads = append(m.threads, threadEntry{name: name, fn: fn})
	m.status.Update(func(s *map[string]ThreadStatus) { (*s)[name] = StatusNull })
	return nil
}

// StartAll spawns every registered goroutine, waits until all of them are
// parked on the start signal, releases them, and waits until all report
// running. It fails if any goroutine raised an error in the meantime.
func (m *ThreadManager) StartAll() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("start threads: already started")
	}
	m.started = true
	threads := make([]threadEntry, len(m.threads))
	copy(threads, m.threads)
	m.mu.Unlock()

	for _, t := range threads {
		h := &ThreadHandler{
			name: t.name,
			m:    m,
			log:  m.log.With().Str("thread", t.name).Logger(),
		}
		fn := t.fn
		m.group.Go(func() error { return m.run(h, fn) })
	}

	if !m.WaitAll(StatusWaiting) || m.rt.Failed() {
		return m.startError()
	}
	m.log.Debug().Int("threads", len(threads)).Msg("releasing start signal")
	m.start.Set(true)

	if !m.WaitAll(StatusRunning) || m.rt.Failed() {
		return m.startError()
	}
	m.log.Info().Int("threads", len(threads)).Msg("all threads running")
	return nil
}

func (m *ThreadManager) startError() error {
	if err := m.rt.Err(); err != nil {
		return fmt.Errorf("start threads: %w", err)
	}
	return fmt.Errorf("start threads: %w", ErrStopped)
}

func (m *ThreadManager) run(h *ThreadHandler, fn ThreadFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
		if err != nil {
			err = &ThreadError{Thread: h.name, Err: err}
			h.log.Error().Err(err).Msg("thread failed")
			m.rt.Fail(err)
		}
		h.Stop()
	}()
	return fn(h)
}

// StopAll asks every goroutine to wind down.
func (m *ThreadManager) StopAll() { m.rt.Quit() }

// Error records a fatal error and releases every blocked goroutine.
func (m *ThreadManager) Error(err error) { m.rt.Fail(err) }

// Join waits for every spawned goroutine to return and reports the first
// thread failure.
func (m *ThreadManager) Join() error { return m.group.Wait() }

// Status returns the current status of the named goroutine.
func (m *ThreadManager) Status(name string) ThreadStatus {
	var st ThreadStatus
	m.status.View(func(s map[string]ThreadStatus) { st = s[name] })
	return st
}

// WaitStatus blocks until the named goroutine reaches at least atLeast. It
// returns false if the run shut down first.
func (m *ThreadManager) WaitStatus(name string, atLeast ThreadStatus) bool {
	_, ok := m.status.Wait(func(s map[string]ThreadStatus) bool {
		return s[name] >= atLeast
	})
	return ok
}

// WaitAll blocks until every registered goroutine reaches at least atLeast.
func (m *ThreadManager) WaitAll(atLeast ThreadStatus) bool {
	_, ok := m.status.Wait(func(s map[string]ThreadStatus) bool {
		for _, st := range s {
			if st < atLeast {
				return false
			}
		}
		return true
	})
	return ok
}

func (m *ThreadManager) setStatus(name string, st ThreadStatus) {
	m.status.Update(func(s *map[string]ThreadStatus) {
		if (*s)[name] < st {
			(*s)[name] = st
		}
	})
}

// ThreadHandler is a managed goroutine's view of its own lifecycle.
type ThreadHandler struct {
	name string
	m    *ThreadManager
	log  zerolog.Logger
}

// Name returns the goroutine's registered name.
func (h *ThreadHandler) Name() string { return h.name }

// Log returns the goroutine's logger.
func (h *ThreadHandler) Log() *zerolog.Logger { return &h.log }

// Runtime returns the shared run state.
func (h *ThreadHandler) Runtime() *RuntimeState { return h.m.rt }

// Context is cancelled when the run quits.
func (h *ThreadHandler) Context() context.Context { return h.m.rt.Context() }

// Start parks the goroutine until StartAll releases it. It returns false if
// the run shut down first, in which case the goroutine should return.
func (h *ThreadHandler) Start() bool {
	h.m.setStatus(h.name, StatusWaiting)
	if _, ok := h.m.start.Wait(func(v bool) bool { return v }); !ok {
		return false
	}
	h.m.setStatus(h.name, StatusInitialising)
	return true
}

// Running marks the main loop as active.
func (h *ThreadHandler) Running() { h.m.setStatus(h.name, StatusRunning) }

// Closing marks the goroutine as winding down.
func (h *ThreadHandler) Closing() { h.m.setStatus(h.name, StatusClosing) }

// Stop marks the goroutine as finished. The manager calls this when the
// body returns.
func (h *ThreadHandler) Stop() { h.m.setStatus(h.name, StatusStop) }

// Good reports whether the main loop should keep going.
func (h *ThreadHandler) Good() bool { return !h.m.rt.QuitRequested() }

// Quit asks the whole run to wind down cleanly.
func (h *ThreadHandler) Quit() { h.m.rt.Quit() }

// Errored reports whether any goroutine raised a fatal error.
func (h *ThreadHandler) Errored() bool { return h.m.rt.Failed() }

// Fail raises a fatal error on behalf of this goroutine.
func (h *ThreadHandler) Fail(err error) {
	h.m.rt.Fail(&ThreadError{Thread: h.name, Err: err})
}

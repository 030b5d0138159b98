package bedrock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// EngineOptions wires an Engine.
type EngineOptions struct {
	Config EngineConfig
	// Presenter receives rendered frames. Nil runs headless: contexts are
	// updated but never rendered.
	Presenter Presenter
	// Events receives lifecycle events on the update goroutine. Nil by
	// default.
	Events EventSink
}

// Engine owns the context stack. The goroutine calling Run (or Step) is the
// update goroutine; RenderLoop runs on its own managed goroutine. Every
// other method may be called from any goroutine.
//
// Each tick, under the stack lock:
//
//  1. closed contexts are popped from the top;
//  2. if a requested group finished loading, every context is stopped and
//     the group's entry point is queued as the new base;
//  3. a queued base replaces the stack, switching the current group if the
//     base belongs to another one;
//  4. queued stack operations are applied in order;
//  5. after a structural change the visible window is recomputed;
//  6. an empty stack ends the run.
//
// Visible contexts are then updated, still under the lock.
type Engine struct {
	rt  *RuntimeState
	log zerolog.Logger
	cm  *ContextManager
	dm  *DataManager
	cfg EngineConfig

	presenter Presenter
	events    EventSink

	updateLock StackLocker
	renderLock StackLocker

	stack *ContextStack // guarded by the stack lock
	ops   *Buffer[StackOperation]

	reqMu      sync.Mutex
	base       ContextHandle
	hasBase    bool
	pending    *ContextGroup
	screenShow bool // load screen already shown for pending

	window  atomic.Pointer[[]string]
	paused  atomic.Bool
	running atomic.Bool

	ticked        *Condition[bool]
	renderStarted atomic.Bool
	renderOnce    sync.Once
	renderDone    chan struct{}

	updateTimer *FrameTimer
	renderTimer *FrameTimer
}

// NewEngine creates an engine over the contexts owned by cm.
func NewEngine(rt *RuntimeState, log zerolog.Logger, cm *ContextManager, dm *DataManager, opts EngineOptions) (*Engine, error) {
	update, render, err := NewStackLocks(rt, opts.Config.StackLock)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		rt:          rt,
		log:         component(log, "engine"),
		cm:          cm,
		dm:          dm,
		cfg:         opts.Config,
		presenter:   opts.Presenter,
		events:      opts.Events,
		updateLock:  update,
		renderLock:  render,
		ops:         NewBuffer[StackOperation](),
		ticked:      NewCondition(rt, false),
		renderDone:  make(chan struct{}),
		updateTimer: NewFrameTimer(),
		renderTimer: NewFrameTimer(),
	}
	e.stack = NewContextStack(cm.Resolve)
	e.stack.OnLifecycle = e.lifecycle
	return e, nil
}

func (e *Engine) emit(ev Event) {
	if e.events != nil {
		e.events.Emit(ev)
	}
}

func (e *Engine) lifecycle(kind EventKind, c Context) {
	ev := Event{Kind: kind, Context: c.Name(), Depth: e.stack.Len()}
	if g := c.Owner(); g != nil {
		ev.Group = g.Name()
	}
	e.log.Debug().Str("context", ev.Context).Stringer("event", kind).Msg("lifecycle")
	e.emit(ev)
}

func (e *Engine) accepting() error {
	if e.rt.QuitRequested() {
		return ErrStopped
	}
	return nil
}

// OpenContext pushes h over the current top. A context from a group other
// than the current or the global one is rejected.
func (e *Engine) OpenContext(h ContextHandle) error {
	if err := e.accepting(); err != nil {
		return err
	}
	c := e.cm.Resolve(h)
	if c == nil {
		return fmt.Errorf("open %s: %w", h, ErrUnknownContext)
	}
	if owner, cur := c.Owner(), e.cm.current.Load(); owner != nil && cur != nil && owner != cur && owner != e.cm.global {
		e.log.Warn().Str("context", c.Name()).Str("owner", owner.Name()).Str("current", cur.Name()).
			Msg("context belongs to another group; open ignored")
		return fmt.Errorf("open %s: %w", c.Name(), ErrForeignContext)
	}
	e.ops.Push(PushOp(h))
	return nil
}

// OpenContextStack replaces the whole stack with h at the next tick. The
// owning group becomes current if it is not already.
func (e *Engine) OpenContextStack(h ContextHandle) error {
	if err := e.accepting(); err != nil {
		return err
	}
	if e.cm.Resolve(h) == nil {
		return fmt.Errorf("open stack %s: %w", h, ErrUnknownContext)
	}
	e.reqMu.Lock()
	e.base, e.hasBase = h, true
	e.reqMu.Unlock()
	return nil
}

// OpenContextGroup streams g in on the context loader. The stack shows g's
// load screen until the load completes, then g's entry point replaces it.
// It reports false if another group request is still pending.
func (e *Engine) OpenContextGroup(g *ContextGroup) bool {
	if e.accepting() != nil || g == nil {
		return false
	}
	if !g.EntryPoint().Valid() {
		e.log.Warn().Str("group", g.Name()).Msg("group has no entry point; open ignored")
		return false
	}
	if !e.cm.SetNextContextGroup(g) {
		return false
	}
	e.reqMu.Lock()
	e.pending, e.screenShow = g, false
	e.reqMu.Unlock()
	return true
}

// CloseContext stops and removes the top context at the next tick.
func (e *Engine) CloseContext() error {
	if err := e.accepting(); err != nil {
		return err
	}
	e.ops.Push(PopOp())
	return nil
}

// PushOperation queues an arbitrary stack operation.
func (e *Engine) PushOperation(op StackOperation) error {
	if err := e.accepting(); err != nil {
		return err
	}
	if op.Kind != OpPop && e.cm.Resolve(op.Context) == nil {
		return fmt.Errorf("queue %s: %w", op, ErrUnknownContext)
	}
	e.ops.Push(op)
	return nil
}

// Pause suspends updates. Rendering carries on.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		e.log.Info().Msg("paused")
		e.emit(Event{Kind: EventPaused})
	}
}

// Resume ends a Pause.
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		e.log.Info().Msg("resumed")
		e.emit(Event{Kind: EventResumed})
	}
}

// IsPaused reports whether Pause is in effect.
func (e *Engine) IsPaused() bool { return e.paused.Load() }

// Quit ends the run.
func (e *Engine) Quit() { e.rt.Quit() }

// CurrentContextGroup returns the group whose contexts are on the stack.
func (e *Engine) CurrentContextGroup() *ContextGroup { return e.cm.CurrentContextGroup() }

// UpdateStats and RenderStats report loop rates since the last stack change.
func (e *Engine) UpdateStats() FrameStats { return e.updateTimer.Stats() }
func (e *Engine) RenderStats() FrameStats { return e.renderTimer.Stats() }

// Run drives the update loop on the calling goroutine until the stack
// empties or the run quits. It returns the run's failure, if any.
func (e *Engine) Run() (err error) {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: already running")
	}
	defer func() {
		if r := recover(); r != nil {
			err = &ThreadError{Thread: "update", Err: newPanicError(r)}
			e.log.Error().Err(err).Msg("update failed")
			e.rt.Fail(err)
		}
		e.shutdown()
		if err == nil && e.rt.Failed() {
			err = e.rt.Err()
		}
	}()

	ctx := e.rt.Context()
	var interval time.Duration
	if e.cfg.TickRate > 0 {
		interval = time.Duration(float64(time.Second) / e.cfg.TickRate)
	}
	e.updateTimer.Skip()
	e.log.Info().Stringer("stack_lock", e.cfg.StackLock).Msg("update loop started")

	for !e.rt.QuitRequested() {
		start := time.Now()
		if e.paused.Load() {
			if !e.idle(ctx) {
				break
			}
			continue
		}
		alive, err := e.step(ctx, e.updateTimer.Lap)
		if err != nil || !alive {
			break
		}
		if interval > 0 {
			if d := interval - time.Since(start); d > 0 {
				time.Sleep(d)
			}
		}
	}
	return nil
}

// idle takes and returns the stack turn while paused, then sleeps.
func (e *Engine) idle(ctx context.Context) bool {
	if err := e.updateLock.Lock(ctx); err != nil {
		return false
	}
	e.updateLock.Unlock()
	d := e.cfg.PauseInterval.Std()
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	time.Sleep(d)
	e.updateTimer.Skip()
	return true
}

// Step runs one tick on the calling goroutine with a fixed dt and reports
// whether the stack is still alive. It is Run's loop body, exposed for
// tools and tests that drive the engine themselves.
//
// With LockTurns each tick waits for the render side's turn, so Step returns
// ErrNoRenderLoop unless RenderLoop is running.
func (e *Engine) Step(dt float64) (bool, error) {
	if _, turns := e.updateLock.(*turnLock); turns && !e.renderStarted.Load() {
		return false, ErrNoRenderLoop
	}
	return e.step(e.rt.Context(), func() float64 { return dt })
}

func (e *Engine) step(ctx context.Context, dt func() float64) (bool, error) {
	if err := e.updateLock.Lock(ctx); err != nil {
		return false, err
	}
	defer e.updateLock.Unlock()
	if e.paused.Load() {
		return true, nil
	}
	alive := e.performStackOperations()
	if alive {
		d := dt()
		for _, c := range e.stack.Window() {
			if !c.IsPaused() {
				c.Update(d)
			}
		}
	}
	if !e.ticked.Load() {
		e.ticked.Set(true)
	}
	return alive, nil
}

// performStackOperations applies pending stack changes. It must run under
// the stack lock and reports false once the stack is empty.
func (e *Engine) performStackOperations() bool {
	// 1
	e.stack.PopClosed()

	// 2
	e.reqMu.Lock()
	pending, shown := e.pending, e.screenShow
	e.reqMu.Unlock()
	if pending != nil {
		switch {
		case e.cm.IsLoaded() && pending.IsLoaded():
			e.reqMu.Lock()
			e.pending = nil
			e.reqMu.Unlock()
			e.stack.StopAll()
			e.queueBase(pending.EntryPoint())
		case !shown:
			e.reqMu.Lock()
			e.screenShow = true
			e.reqMu.Unlock()
			if ls := pending.LoadScreen(); ls.Valid() {
				if err := e.stack.Reset(ls); err != nil {
					e.log.Warn().Err(err).Str("group", pending.Name()).Msg("show load screen")
				}
			}
		}
	}

	// 3
	if base, ok := e.takeBase(); ok {
		e.stack.StopAll()
		if c := e.cm.Resolve(base); c != nil {
			if owner := c.Owner(); owner != nil && owner != e.cm.global {
				e.switchGroup(owner)
			}
			if err := e.stack.Push(base); err != nil {
				e.log.Warn().Err(err).Msg("open base context")
			}
		} else {
			e.log.Warn().Stringer("handle", base).Msg("base context no longer exists")
		}
	}

	// 4
	for {
		op, ok := e.ops.Pop()
		if !ok {
			break
		}
		applied, err := e.stack.Apply(op)
		switch {
		case err != nil:
			e.log.Warn().Err(err).Stringer("op", op).Msg("stack operation ignored")
		case !applied:
			e.log.Warn().Stringer("op", op).Msg("stack is empty; pop ignored")
		default:
			e.log.Debug().Stringer("op", op).Int("depth", e.stack.Len()).Msg("stack operation")
		}
	}

	// 5
	if e.stack.Refresh() {
		e.stackChanged()
	}

	// 6
	return !e.stack.Empty()
}

func (e *Engine) queueBase(h ContextHandle) {
	if !h.Valid() {
		e.log.Warn().Msg("loaded group has no entry point")
		return
	}
	e.reqMu.Lock()
	e.base, e.hasBase = h, true
	e.reqMu.Unlock()
}

func (e *Engine) takeBase() (ContextHandle, bool) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if !e.hasBase {
		return ContextHandle{}, false
	}
	h := e.base
	e.base, e.hasBase = ContextHandle{}, false
	return h, true
}

// switchGroup makes g current. The previous group is closed and handed to
// the context loader for unloading.
func (e *Engine) switchGroup(g *ContextGroup) {
	old := e.cm.current.Load()
	if old == g {
		return
	}
	if old != nil {
		old.Close()
		e.cm.ReleaseContextGroup(old)
		e.emit(Event{Kind: EventGroupClosed, Group: old.Name()})
	}
	if !g.IsLoaded() {
		e.log.Warn().Str("group", g.Name()).Msg("opening a group that is not loaded")
	}
	g.Open()
	e.cm.current.Store(g)
	e.log.Info().Str("group", g.Name()).Msg("group is current")
	e.emit(Event{Kind: EventGroupOpened, Group: g.Name()})
}

func (e *Engine) stackChanged() {
	win := e.stack.Window()
	names := make([]string, len(win))
	for i, c := range win {
		names[i] = c.Name()
	}
	e.window.Store(&names)

	ev := e.log.Debug().Int("depth", e.stack.Len()).Int("visible", len(win))
	if len(win) > 0 {
		ev = ev.Str("window_start", win[0].Name())
	}
	ev.Msg("visible window")

	if e.updateTimer.Measured() {
		u, r := e.updateTimer.Stats(), e.renderTimer.Stats()
		e.log.Info().
			Float64("update_fps", u.AvgFPS).
			Float64("update_min_fps", u.MinFPS).
			Float64("render_fps", r.AvgFPS).
			Msg("previous stack")
		e.updateTimer.Reset()
		e.renderTimer.Reset()
	}
	e.emit(Event{Kind: EventStackChanged, Depth: e.stack.Len(), Visible: len(win)})
}

// VisibleContexts returns the names of the visible contexts, bottom-most
// first, as of the last structural change.
func (e *Engine) VisibleContexts() []string {
	if p := e.window.Load(); p != nil {
		return *p
	}
	return nil
}

// shutdown unwinds the stack once the render goroutine has let go, closes
// and unloads the current group, and ends the run.
func (e *Engine) shutdown() {
	e.rt.Quit()
	if e.renderStarted.Load() {
		select {
		case <-e.renderDone:
		case <-time.After(2 * time.Second):
			e.log.Warn().Msg("render loop did not stop; unwinding anyway")
		}
	}
	e.stack.StopAll()
	if e.stack.Refresh() {
		e.stackChanged()
	}
	if g := e.cm.current.Swap(nil); g != nil {
		g.Close()
		if err := g.Unload(); err != nil {
			e.log.Warn().Err(err).Msg("unload current group")
		}
		e.emit(Event{Kind: EventGroupClosed, Group: g.Name()})
	}
	e.log.Info().Msg("update loop stopped")
	e.emit(Event{Kind: EventShutdown})
}

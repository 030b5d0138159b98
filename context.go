package bedrock

import (
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
)

// Context is one application state that can sit on the context stack: a
// scene, a menu, a dialog, a loading screen.
//
// Lifecycle hooks run on the update goroutine. Render runs on the render
// goroutine while the stack lock is held.
type Context interface {
	Name() string

	StartContext()
	StopContext()
	PauseContext()
	ResumeContext()

	// Closed reports that the context asked to be removed. The engine pops
	// closed contexts from the top of the stack at the next tick.
	Closed() bool
	IsPaused() bool
	// OverridesPreviousContext reports that contexts below this one are
	// neither updated nor rendered.
	OverridesPreviousContext() bool

	Update(dt float64)
	Render(target *ebiten.Image)

	Owner() *ContextGroup
}

// Preloader is implemented by contexts that need work done after their
// group's data is decoded and before the group is reported as loaded. It
// runs on the context loader goroutine.
type Preloader interface {
	Preload(data *DataHandler) error
}

// ContextOptions configures a ContextBase.
type ContextOptions struct {
	Overrides bool // hide and freeze contexts below
	Pauseable bool // PauseContext takes effect
}

// ContextBase implements the Context bookkeeping. Embed a *ContextBase and
// override Update and Render, or set the callbacks.
type ContextBase struct {
	name      string
	owner     *ContextGroup
	overrides bool
	pauseable bool

	running atomic.Bool
	closed  atomic.Bool
	paused  atomic.Bool

	// Callbacks are nil by default.
	OnStart  func()
	OnStop   func()
	OnPause  func()
	OnResume func()
	OnUpdate func(dt float64)
	OnRender func(target *ebiten.Image)
}

// NewContextBase creates the bookkeeping for a context owned by owner.
func NewContextBase(name string, owner *ContextGroup, opts ContextOptions) *ContextBase {
	return &ContextBase{
		name:      name,
		owner:     owner,
		overrides: opts.Overrides,
		pauseable: opts.Pauseable,
	}
}

func (b *ContextBase) Name() string                   { return b.name }
func (b *ContextBase) Owner() *ContextGroup           { return b.owner }
func (b *ContextBase) Closed() bool                   { return b.closed.Load() }
func (b *ContextBase) IsPaused() bool                 { return b.paused.Load() }
func (b *ContextBase) OverridesPreviousContext() bool { return b.overrides }
func (b *ContextBase) Pauseable() bool                { return b.pauseable }
func (b *ContextBase) Running() bool                  { return b.running.Load() }

// Close asks the engine to remove this context.
func (b *ContextBase) Close() { b.closed.Store(true) }

// StartContext clears the closed and paused flags, so a context can be
// reopened after it was stopped.
func (b *ContextBase) StartContext() {
	b.closed.Store(false)
	b.paused.Store(false)
	if b.running.Swap(true) {
		return
	}
	if b.OnStart != nil {
		b.OnStart()
	}
}

// StopContext runs the stop hook once and marks the context closed.
func (b *ContextBase) StopContext() {
	b.closed.Store(true)
	b.paused.Store(false)
	if !b.running.Swap(false) {
		return
	}
	if b.OnStop != nil {
		b.OnStop()
	}
}

// PauseContext pauses a running, pauseable context and calls OnPause.
func (b *ContextBase) PauseContext() {
	if !b.pauseable || !b.running.Load() || b.paused.Swap(true) {
		return
	}
	if b.OnPause != nil {
		b.OnPause()
	}
}

// ResumeContext undoes PauseContext.
func (b *ContextBase) ResumeContext() {
	if !b.paused.Swap(false) {
		return
	}
	if b.OnResume != nil {
		b.OnResume()
	}
}

// Update calls OnUpdate, if set.
func (b *ContextBase) Update(dt float64) {
	if b.OnUpdate != nil {
		b.OnUpdate(dt)
	}
}

// Render calls OnRender, if set.
func (b *ContextBase) Render(target *ebiten.Image) {
	if b.OnRender != nil {
		b.OnRender(target)
	}
}

package bedrock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LoadState is a ContextGroup's loading stage.
type LoadState uint8

const (
	Unloaded LoadState = iota
	Loading
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	}
	return "unloaded"
}

// progressPoll is how often a loading group refreshes its progress while
// waiting for the data loader.
const progressPoll = 20 * time.Millisecond

// ContextGroup is a streamable bundle of contexts and the DataHandler they
// draw from. Its contexts live for the lifetime of the ContextManager; Load
// and Unload only move the data.
//
// Load state, progress and status text have their own lock, separate from
// the stack lock, so a load screen can poll them freely.
type ContextGroup struct {
	name string
	id   uuid.UUID
	cm   *ContextManager
	data *DataHandler
	log  zerolog.Logger

	// set while configuring, read-only afterwards
	handles    map[string]ContextHandle
	order      []string
	entry      string
	loadScreen string

	mu       sync.Mutex
	state    LoadState
	progress float64
	status   string
	open     bool
}

func (g *ContextGroup) Name() string       { return g.name }
func (g *ContextGroup) ID() uuid.UUID      { return g.id }
func (g *ContextGroup) Data() *DataHandler { return g.data }

// Add registers c under name.
func (g *ContextGroup) Add(name string, c Context) (ContextHandle, error) {
	if _, ok := g.handles[name]; ok {
		return ContextHandle{}, fmt.Errorf("group %s: context %q already defined", g.name, name)
	}
	h := g.cm.arena.insert(c)
	g.handles[name] = h
	g.order = append(g.order, name)
	return h, nil
}

// NewContextBase returns bookkeeping for a context owned by g.
func (g *ContextGroup) NewContextBase(name string, opts ContextOptions) *ContextBase {
	return NewContextBase(name, g, opts)
}

// SetEntryPoint names the context opened when the group becomes current.
func (g *ContextGroup) SetEntryPoint(name string) { g.entry = name }

// SetLoadScreen names the context shown while the group loads. The name is
// looked up in this group first, then in the global group.
func (g *ContextGroup) SetLoadScreen(name string) { g.loadScreen = name }

// Handle returns the handle of the named context.
func (g *ContextGroup) Handle(name string) (ContextHandle, bool) {
	h, ok := g.handles[name]
	return h, ok
}

// Contexts returns all context handles in definition order.
func (g *ContextGroup) Contexts() []ContextHandle {
	out := make([]ContextHandle, 0, len(g.order))
	for _, n := range g.order {
		out = append(out, g.handles[n])
	}
	return out
}

// EntryPoint returns the entry context, or an invalid handle if none.
func (g *ContextGroup) EntryPoint() ContextHandle {
	return g.handles[g.entry]
}

// LoadScreen resolves the load screen each call, so a load screen defined in
// the global group is found even if that group was built later.
func (g *ContextGroup) LoadScreen() ContextHandle {
	if g.loadScreen == "" {
		return ContextHandle{}
	}
	if h, ok := g.handles[g.loadScreen]; ok {
		return h
	}
	if global := g.cm.GlobalContextGroup(); global != nil && global != g {
		if h, ok := global.handles[g.loadScreen]; ok {
			return h
		}
	}
	return ContextHandle{}
}

// State returns the current load state.
func (g *ContextGroup) State() LoadState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *ContextGroup) IsLoaded() bool { return g.State() == Loaded }

// LoadProgress returns a value in [0,1].
func (g *ContextGroup) LoadProgress() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress
}

// LoadStatus returns a short description of what the load is doing.
func (g *ContextGroup) LoadStatus() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *ContextGroup) setProgress(p float64, status string) {
	g.mu.Lock()
	g.progress = p
	g.status = status
	g.mu.Unlock()
}

func (g *ContextGroup) resetProgress() {
	g.mu.Lock()
	if g.state != Loaded {
		g.progress = 0
		g.status = "queued"
	}
	g.mu.Unlock()
}

// Load decodes the group's data through the DataManager, then runs the
// Preload hook of every context that has one. It blocks until done and is
// a no-op for a loaded group.
func (g *ContextGroup) Load(ctx context.Context) error {
	g.mu.Lock()
	if g.state == Loaded {
		g.mu.Unlock()
		return nil
	}
	g.state = Loading
	g.progress = 0
	g.status = "loading data"
	g.mu.Unlock()

	start := time.Now()
	var preloaders []Preloader
	for _, h := range g.Contexts() {
		if p, ok := g.cm.Resolve(h).(Preloader); ok {
			preloaders = append(preloaders, p)
		}
	}

	ticket := g.data.Load()
	for !g.data.waitFor(ticket, progressPoll) {
		if err := ctx.Err(); err != nil {
			g.abortLoad()
			return fmt.Errorf("load group %s: %w", g.name, context.Cause(ctx))
		}
		if g.cm.rt.QuitRequested() {
			g.abortLoad()
			return fmt.Errorf("load group %s: %w", g.name, ErrStopped)
		}
		done, total := g.data.counts()
		g.setProgress(fraction(done, total+len(preloaders)), "loading data")
	}
	if !g.data.IsLoaded() {
		g.abortLoad()
		return fmt.Errorf("load group %s: %w", g.name, ErrDataDropped)
	}

	_, total := g.data.counts()
	for i, p := range preloaders {
		g.setProgress(fraction(total+i, total+len(preloaders)), "preparing contexts")
		if err := p.Preload(g.data); err != nil {
			g.abortLoad()
			return fmt.Errorf("load group %s: preload: %w", g.name, err)
		}
	}

	g.mu.Lock()
	g.state = Loaded
	g.progress = 1
	g.status = "ready"
	g.mu.Unlock()
	g.log.Info().Dur("took", time.Since(start)).Msg("group loaded")
	return nil
}

func (g *ContextGroup) abortLoad() {
	g.mu.Lock()
	g.state = Unloaded
	g.status = "aborted"
	g.mu.Unlock()
}

func fraction(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// Unload releases the group's data. An open group is never unloaded.
func (g *ContextGroup) Unload() error {
	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		return fmt.Errorf("unload group %s: group is open", g.name)
	}
	if g.state == Unloaded {
		g.mu.Unlock()
		return nil
	}
	g.state = Unloaded
	g.progress = 0
	g.status = "unloaded"
	g.mu.Unlock()
	g.data.Unload()
	g.log.Info().Msg("group unloaded")
	return nil
}

// Open marks the group as the current one.
func (g *ContextGroup) Open() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
	g.log.Debug().Msg("group opened")
}

// Close marks the group as no longer current.
func (g *ContextGroup) Close() {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
	g.log.Debug().Msg("group closed")
}

// IsOpen reports whether the group is the engine's current group.
func (g *ContextGroup) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

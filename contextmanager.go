package bedrock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GlobalGroupName is the name of the always-resident context group.
const GlobalGroupName = "global"

type groupRequest struct {
	next    *ContextGroup
	pending bool // a request was accepted and has not finished
	loading bool // the loader picked it up
}

// ContextManager owns every context group and the contexts inside them, and
// streams groups in on its loader goroutine.
type ContextManager struct {
	rt  *RuntimeState
	log zerolog.Logger
	dm  *DataManager

	arena contextArena

	mu     sync.RWMutex
	global *ContextGroup
	groups map[string]*ContextGroup
	entry  string

	request  *Condition[groupRequest]
	released *Buffer[*ContextGroup]
	current  atomic.Pointer[ContextGroup] // set by the engine
}

// NewContextManager creates a manager with an empty global group.
func NewContextManager(rt *RuntimeState, log zerolog.Logger, dm *DataManager) *ContextManager {
	cm := &ContextManager{
		rt:       rt,
		log:      component(log, "contexts"),
		dm:       dm,
		groups:   map[string]*ContextGroup{},
		request:  NewCondition(rt, groupRequest{}),
		released: NewBuffer[*ContextGroup](),
	}
	cm.global = cm.newGroup(GlobalGroupName)
	return cm
}

func (cm *ContextManager) newGroup(name string) *ContextGroup {
	return &ContextGroup{
		name:    name,
		id:      uuid.New(),
		cm:      cm,
		data:    cm.dm.NewHandler(name),
		log:     cm.log.With().Str("group", name).Logger(),
		handles: map[string]ContextHandle{},
		status:  "unloaded",
	}
}

// NewContextGroup creates and registers an empty, unloaded group.
func (cm *ContextManager) NewContextGroup(name string) (*ContextGroup, error) {
	if name == GlobalGroupName {
		return nil, configErrorf("group name %q is reserved", name)
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.groups[name]; ok {
		return nil, configErrorf("group %q defined twice", name)
	}
	g := cm.newGroup(name)
	cm.groups[name] = g
	return g, nil
}

// SetEntryGroup names the group loaded by LoadEntryPoint.
func (cm *ContextManager) SetEntryGroup(name string) {
	cm.mu.Lock()
	cm.entry = name
	cm.mu.Unlock()
}

// Configure builds, without loading, the global group and every declared
// group from configuration, creating contexts through reg.
func (cm *ContextManager) Configure(reg *Registry, global GroupConfig, groups []GroupConfig, entry string) error {
	if err := cm.build(reg, cm.global, global); err != nil {
		return err
	}
	for _, gc := range groups {
		g, err := cm.NewContextGroup(gc.Name)
		if err != nil {
			return err
		}
		if err := cm.build(reg, g, gc); err != nil {
			return err
		}
	}
	if _, ok := cm.ContextGroup(entry); !ok {
		return fmt.Errorf("entry group %q: %w", entry, ErrUnknownGroup)
	}
	cm.SetEntryGroup(entry)
	cm.log.Info().Int("groups", len(groups)).Str("entry", entry).Msg("configured")
	return nil
}

func (cm *ContextManager) build(reg *Registry, g *ContextGroup, gc GroupConfig) error {
	for _, cc := range gc.Contexts {
		c, err := reg.Create(g, cc)
		if err != nil {
			return fmt.Errorf("group %s: %w", g.name, err)
		}
		if _, err := g.Add(cc.Name, c); err != nil {
			return err
		}
	}
	g.Data().Require(gc.Assets...)
	if gc.EntryPoint != "" {
		if _, ok := g.Handle(gc.EntryPoint); !ok {
			return configErrorf("group %s: entry point %q is not one of its contexts", g.name, gc.EntryPoint)
		}
		g.SetEntryPoint(gc.EntryPoint)
	}
	g.SetLoadScreen(gc.LoadScreen)
	return nil
}

// Resolve returns the context behind h, or nil for a stale handle.
func (cm *ContextManager) Resolve(h ContextHandle) Context { return cm.arena.get(h) }

// ContextGroup returns a group by name. The global group is found under
// GlobalGroupName.
func (cm *ContextManager) ContextGroup(name string) (*ContextGroup, bool) {
	if name == GlobalGroupName {
		return cm.global, true
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	g, ok := cm.groups[name]
	return g, ok
}

// GlobalContextGroup returns the always-resident group.
func (cm *ContextManager) GlobalContextGroup() *ContextGroup { return cm.global }

// CurrentContextGroup returns the group whose contexts are on the stack, or
// nil before the first one opens.
func (cm *ContextManager) CurrentContextGroup() *ContextGroup { return cm.current.Load() }

// EntryGroup returns the group loaded by LoadEntryPoint.
func (cm *ContextManager) EntryGroup() (*ContextGroup, bool) {
	cm.mu.RLock()
	name := cm.entry
	cm.mu.RUnlock()
	return cm.ContextGroup(name)
}

// LoadEntryPoint synchronously loads the global group and the entry group.
func (cm *ContextManager) LoadEntryPoint(ctx context.Context) (*ContextGroup, error) {
	g, ok := cm.EntryGroup()
	if !ok {
		return nil, fmt.Errorf("load entry point: %w", ErrUnknownGroup)
	}
	if err := cm.global.Load(ctx); err != nil {
		return nil, fmt.Errorf("load entry point: %w", err)
	}
	if err := g.Load(ctx); err != nil {
		return nil, fmt.Errorf("load entry point: %w", err)
	}
	return g, nil
}

// SetNextContextGroup asks the loader to stream g in. A request made while
// another is pending is rejected with a warning.
func (cm *ContextManager) SetNextContextGroup(g *ContextGroup) bool {
	accepted := false
	var busy *ContextGroup
	cm.request.Update(func(r *groupRequest) {
		if r.pending {
			busy = r.next
			return
		}
		*r = groupRequest{next: g, pending: true}
		accepted = true
	})
	if !accepted {
		cm.log.Warn().Str("requested", g.name).Str("pending", busy.name).Msg("group load already pending; request ignored")
		return false
	}
	g.resetProgress()
	cm.log.Info().Str("group", g.name).Msg("next group requested")
	return true
}

// IsLoaded reports whether the last accepted request has finished.
func (cm *ContextManager) IsLoaded() bool { return !cm.request.Load().pending }

// NextContextGroup returns the group of the pending request, if any.
func (cm *ContextManager) NextContextGroup() *ContextGroup {
	r := cm.request.Load()
	if !r.pending {
		return nil
	}
	return r.next
}

// LoadProgress returns the pending group's progress, or 1 when idle.
func (cm *ContextManager) LoadProgress() float64 {
	if g := cm.NextContextGroup(); g != nil {
		return g.LoadProgress()
	}
	return 1
}

// LoadStatus returns the pending group's status text.
func (cm *ContextManager) LoadStatus() string {
	if g := cm.NextContextGroup(); g != nil {
		return g.LoadStatus()
	}
	return "ready"
}

// ReleaseContextGroup queues g to be unloaded on the loader goroutine. The
// global group is never released.
func (cm *ContextManager) ReleaseContextGroup(g *ContextGroup) {
	if g == nil || g == cm.global {
		return
	}
	cm.released.Push(g)
	cm.request.Broadcast()
}

// Run is the loader goroutine body.
func (cm *ContextManager) Run(h *ThreadHandler) error {
	if !h.Start() {
		return nil
	}
	h.Running()
	defer h.Closing()
	for h.Good() {
		r, ok := cm.request.Wait(func(r groupRequest) bool {
			return (r.pending && !r.loading) || !cm.released.Empty()
		})
		if !ok {
			return nil
		}
		cm.drainReleased(r.next)
		if !r.pending || r.loading {
			continue
		}
		cm.request.Update(func(r *groupRequest) { r.loading = true })
		if err := r.next.Load(h.Context()); err != nil {
			if cm.rt.QuitRequested() {
				return nil
			}
			return err
		}
		cm.request.Update(func(r *groupRequest) { *r = groupRequest{} })
		cm.log.Info().Str("group", r.next.name).Msg("next group ready")
	}
	return nil
}

func (cm *ContextManager) drainReleased(keep *ContextGroup) {
	for {
		g, ok := cm.released.Pop()
		if !ok {
			return
		}
		if g == keep {
			continue
		}
		if err := g.Unload(); err != nil {
			cm.log.Warn().Err(err).Str("group", g.name).Msg("release skipped")
		}
	}
}

// UnloadAll releases every loaded group, the global one last. Groups that
// are still open are skipped.
func (cm *ContextManager) UnloadAll() {
	cm.mu.RLock()
	groups := make([]*ContextGroup, 0, len(cm.groups))
	for _, g := range cm.groups {
		groups = append(groups, g)
	}
	cm.mu.RUnlock()
	for _, g := range append(groups, cm.global) {
		if err := g.Unload(); err != nil {
			cm.log.Debug().Err(err).Str("group", g.name).Msg("unload skipped")
		}
	}
}

// Remove drops the group and invalidates the handles of its contexts. The
// group must be unloaded and closed.
func (cm *ContextManager) Remove(name string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	g, ok := cm.groups[name]
	if !ok {
		return fmt.Errorf("remove %q: %w", name, ErrUnknownGroup)
	}
	if g.IsOpen() || g.State() != Unloaded {
		return fmt.Errorf("remove %q: group is still in use", name)
	}
	for _, h := range g.Contexts() {
		cm.arena.remove(h)
	}
	delete(cm.groups, name)
	return nil
}

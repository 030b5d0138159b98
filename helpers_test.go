package bedrock

import (
	"sync"
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// recorder collects lifecycle calls in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

// take returns and clears the recorded calls.
func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type testContext struct {
	*ContextBase
	updates int
	renders int
}

func newTestContext(g *ContextGroup, name string, rec *recorder, opts ContextOptions) *testContext {
	c := &testContext{ContextBase: g.NewContextBase(name, opts)}
	c.OnStart = func() { rec.add(name + ":start") }
	c.OnStop = func() { rec.add(name + ":stop") }
	c.OnPause = func() { rec.add(name + ":pause") }
	c.OnResume = func() { rec.add(name + ":resume") }
	c.OnUpdate = func(float64) { c.updates++ }
	c.OnRender = func(*ebiten.Image) { c.renders++ }
	return c
}

// rig is an engine over one group, driven with Step on the test goroutine.
type rig struct {
	rt  *RuntimeState
	dm  *DataManager
	cm  *ContextManager
	e   *Engine
	g   *ContextGroup
	rec *recorder
}

func newRig(t *testing.T, opts EngineOptions) *rig {
	t.Helper()
	rt := NewRuntimeState()
	log := zerolog.Nop()
	dm := NewDataManager(rt, log, DataOptions{})
	cm := NewContextManager(rt, log, dm)
	g, err := cm.NewContextGroup("main")
	require.NoError(t, err)
	e, err := NewEngine(rt, log, cm, dm, opts)
	require.NoError(t, err)
	t.Cleanup(rt.Quit)
	return &rig{rt: rt, dm: dm, cm: cm, e: e, g: g, rec: &recorder{}}
}

func (r *rig) add(t *testing.T, name string, opts ContextOptions) (ContextHandle, *testContext) {
	t.Helper()
	return r.addTo(t, r.g, name, opts)
}

func (r *rig) addTo(t *testing.T, g *ContextGroup, name string, opts ContextOptions) (ContextHandle, *testContext) {
	t.Helper()
	c := newTestContext(g, name, r.rec, opts)
	h, err := g.Add(name, c)
	require.NoError(t, err)
	return h, c
}

func (r *rig) step(t *testing.T) bool {
	t.Helper()
	alive, err := r.e.Step(1.0 / 60)
	require.NoError(t, err)
	return alive
}

package bedrock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLoaders runs the data and context loaders for the rig's runtime.
func (r *rig) startLoaders(t *testing.T, extra ...func(m *ThreadManager)) *ThreadManager {
	t.Helper()
	m := NewThreadManager(r.rt, zerolog.Nop())
	require.NoError(t, m.Register(ThreadDataLoader, r.dm.Run))
	require.NoError(t, m.Register(ThreadContextLoader, r.cm.Run))
	for _, fn := range extra {
		fn(m)
	}
	require.NoError(t, m.StartAll())
	t.Cleanup(func() {
		r.rt.Quit()
		assert.NoError(t, m.Join())
	})
	return m
}

// stepUntil steps the engine until cond holds.
func (r *rig) stepUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met; window %v", r.e.VisibleContexts())
		}
		r.step(t)
		time.Sleep(time.Millisecond)
	}
}

type blockingContext struct {
	*testContext
	release chan struct{}
}

func (b *blockingContext) Preload(*DataHandler) error {
	<-b.release
	return nil
}

// --- Stack operations ---

func TestEngine_EmptyStackEndsStep(t *testing.T) {
	r := newRig(t, EngineOptions{})
	assert.False(t, r.step(t))
}

func TestEngine_OpenContextStack(t *testing.T) {
	r := newRig(t, EngineOptions{})
	a, ca := r.add(t, "a", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))

	assert.True(t, r.step(t))
	assert.Equal(t, []string{"a"}, r.e.VisibleContexts())
	assert.Same(t, r.g, r.e.CurrentContextGroup())
	assert.True(t, r.g.IsOpen())
	assert.Equal(t, 1, ca.updates, "base context updated in the tick it opened")
}

func TestEngine_OpenContextStackReplacesStack(t *testing.T) {
	r := newRig(t, EngineOptions{})
	a, _ := r.add(t, "a", ContextOptions{})
	b, _ := r.add(t, "b", ContextOptions{})
	c, _ := r.add(t, "c", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)
	require.NoError(t, r.e.OpenContext(b))
	r.step(t)
	r.rec.take()

	require.NoError(t, r.e.OpenContextStack(c))
	r.step(t)
	assert.Equal(t, []string{"b:stop", "a:stop", "c:start"}, r.rec.take())
	assert.Equal(t, []string{"c"}, r.e.VisibleContexts())
}

func TestEngine_OperationsApplyInOrder(t *testing.T) {
	r := newRig(t, EngineOptions{})
	a, _ := r.add(t, "a", ContextOptions{})
	b, _ := r.add(t, "b", ContextOptions{})
	c, _ := r.add(t, "c", ContextOptions{})
	d, _ := r.add(t, "d", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)

	require.NoError(t, r.e.OpenContext(b))
	require.NoError(t, r.e.OpenContext(c))
	require.NoError(t, r.e.CloseContext())
	require.NoError(t, r.e.PushOperation(TransferOp(d)))
	r.step(t)
	assert.Equal(t, []string{"a", "d"}, r.e.VisibleContexts())

	require.NoError(t, r.e.PushOperation(ResetOp(b)))
	r.step(t)
	assert.Equal(t, []string{"b"}, r.e.VisibleContexts())
}

func TestEngine_InvalidOperationIgnored(t *testing.T) {
	r := newRig(t, EngineOptions{})
	a, _ := r.add(t, "a", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)

	assert.ErrorIs(t, r.e.PushOperation(PushOp(ContextHandle{})), ErrUnknownContext)
	require.NoError(t, r.e.OpenContext(a)) // already open: skipped at apply
	assert.True(t, r.step(t))
	assert.Equal(t, []string{"a"}, r.e.VisibleContexts())
}

func TestEngine_OverrideHidesContextsBelow(t *testing.T) {
	r := newRig(t, EngineOptions{})
	a, ca := r.add(t, "A", ContextOptions{})
	b, cb := r.add(t, "B", ContextOptions{Overrides: true})
	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)
	require.NoError(t, r.e.OpenContext(b))
	r.step(t)
	assert.Equal(t, []string{"B"}, r.e.VisibleContexts())
	before := ca.updates
	r.step(t)
	assert.Equal(t, before, ca.updates, "hidden context not updated")

	cb.Close()
	r.step(t)
	assert.Equal(t, []string{"A"}, r.e.VisibleContexts())
	assert.Equal(t, before+1, ca.updates)
}

func TestEngine_SelfClosingContext(t *testing.T) {
	r := newRig(t, EngineOptions{})
	a, ca := r.add(t, "a", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)

	ca.Close()
	assert.False(t, r.step(t), "last context closed empties the stack")
	assert.Empty(t, r.e.VisibleContexts())
}

func TestEngine_ForeignContextRejected(t *testing.T) {
	r := newRig(t, EngineOptions{})
	other, err := r.cm.NewContextGroup("other")
	require.NoError(t, err)
	a, _ := r.add(t, "a", ContextOptions{})
	x, _ := r.addTo(t, other, "x", ContextOptions{})
	hud, _ := r.addTo(t, r.cm.GlobalContextGroup(), "hud", ContextOptions{})

	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)

	assert.ErrorIs(t, r.e.OpenContext(x), ErrForeignContext)
	require.NoError(t, r.e.OpenContext(hud), "global contexts open over any group")
	r.step(t)
	assert.Equal(t, []string{"a", "hud"}, r.e.VisibleContexts())
}

func TestEngine_RequestsAfterQuit(t *testing.T) {
	r := newRig(t, EngineOptions{})
	a, _ := r.add(t, "a", ContextOptions{})
	r.e.Quit()

	assert.ErrorIs(t, r.e.OpenContext(a), ErrStopped)
	assert.ErrorIs(t, r.e.OpenContextStack(a), ErrStopped)
	assert.ErrorIs(t, r.e.CloseContext(), ErrStopped)
	assert.ErrorIs(t, r.e.PushOperation(PopOp()), ErrStopped)
	assert.False(t, r.e.OpenContextGroup(r.g))
}

// An observer holding the stack lock never sees an empty stack while
// operations are being applied.
func TestEngine_StackNeverEmptyUnderLock(t *testing.T) {
	r := newRig(t, EngineOptions{})
	var hs []ContextHandle
	for _, n := range []string{"a", "b", "c", "d"} {
		h, _ := r.add(t, n, ContextOptions{})
		hs = append(hs, h)
	}
	require.NoError(t, r.e.OpenContextStack(hs[0]))
	r.step(t)

	var empty atomic.Int32
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx := context.Background()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := r.e.renderLock.Lock(ctx); err != nil {
				return
			}
			if r.e.stack.Empty() {
				empty.Add(1)
			}
			r.e.renderLock.Unlock()
		}
	}()

	for i := range 200 {
		h := hs[i%len(hs)]
		switch i % 3 {
		case 0:
			require.NoError(t, r.e.PushOperation(ResetOp(h)))
		case 1:
			require.NoError(t, r.e.PushOperation(TransferOp(h)))
		case 2:
			require.NoError(t, r.e.PushOperation(PushOp(hs[(i+1)%len(hs)])))
			require.NoError(t, r.e.CloseContext())
		}
		require.True(t, r.step(t))
	}
	close(stop)
	wg.Wait()
	assert.Zero(t, empty.Load())
}

// --- Pause ---

func TestEngine_PauseFreezesUpdatesAndOperations(t *testing.T) {
	var events []EventKind
	r := newRig(t, EngineOptions{Events: EventSinkFunc(func(ev Event) { events = append(events, ev.Kind) })})
	a, ca := r.add(t, "a", ContextOptions{})
	b, _ := r.add(t, "b", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)

	r.e.Pause()
	r.e.Pause()
	assert.True(t, r.e.IsPaused())
	require.NoError(t, r.e.OpenContext(b))
	n := ca.updates
	assert.True(t, r.step(t))
	assert.Equal(t, n, ca.updates)
	assert.Equal(t, []string{"a"}, r.e.VisibleContexts())

	r.e.Resume()
	r.step(t)
	assert.Equal(t, []string{"a", "b"}, r.e.VisibleContexts())

	var got []EventKind
	for _, k := range events {
		if k == EventPaused || k == EventResumed {
			got = append(got, k)
		}
	}
	assert.Equal(t, []EventKind{EventPaused, EventResumed}, got)
}

// --- Groups ---

func TestEngine_OpenContextGroup(t *testing.T) {
	r := newRig(t, EngineOptions{})
	global := r.cm.GlobalContextGroup()
	r.addTo(t, global, "loading", ContextOptions{Overrides: true})

	level, err := r.cm.NewContextGroup("level")
	require.NoError(t, err)
	play := &blockingContext{
		testContext: newTestContext(level, "play", r.rec, ContextOptions{}),
		release:     make(chan struct{}),
	}
	_, err = level.Add("play", play)
	require.NoError(t, err)
	level.SetEntryPoint("play")
	level.SetLoadScreen("loading")

	other, err := r.cm.NewContextGroup("other")
	require.NoError(t, err)
	r.addTo(t, other, "o", ContextOptions{})
	other.SetEntryPoint("o")

	r.startLoaders(t)
	_, err = r.cm.LoadEntryPoint(context.Background())
	require.Error(t, err, "no entry group configured")
	require.NoError(t, r.g.Load(context.Background()))

	a, _ := r.add(t, "a", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)

	require.True(t, r.e.OpenContextGroup(level))
	assert.False(t, r.e.OpenContextGroup(other), "one group request at a time")
	assert.Same(t, level, r.cm.NextContextGroup())

	r.step(t)
	assert.Equal(t, []string{"loading"}, r.e.VisibleContexts(), "load screen shown while loading")
	assert.Same(t, r.g, r.e.CurrentContextGroup())
	assert.Less(t, r.cm.LoadProgress(), 1.0)

	close(play.release)
	r.stepUntil(t, func() bool { return r.e.CurrentContextGroup() == level })
	assert.Equal(t, []string{"play"}, r.e.VisibleContexts())
	assert.True(t, level.IsOpen())
	assert.True(t, level.IsLoaded())
	assert.False(t, r.g.IsOpen())

	require.Eventually(t, func() bool { return r.g.State() == Unloaded },
		2*time.Second, 5*time.Millisecond, "previous group released")
	assert.True(t, r.e.OpenContextGroup(other), "accepted once the first request finished")
}

func TestEngine_OpenContextGroupWithoutEntryPoint(t *testing.T) {
	r := newRig(t, EngineOptions{})
	g, err := r.cm.NewContextGroup("empty")
	require.NoError(t, err)
	assert.False(t, r.e.OpenContextGroup(g))
	assert.False(t, r.e.OpenContextGroup(nil))
}

func TestEngine_Events(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	sink := EventSinkFunc(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	r := newRig(t, EngineOptions{Events: sink})
	a, _ := r.add(t, "a", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))
	r.step(t)

	require.Len(t, events, 3)
	assert.Equal(t, EventGroupOpened, events[0].Kind)
	assert.Equal(t, "main", events[0].Group)
	assert.Equal(t, Event{Kind: EventContextStarted, Context: "a", Group: "main", Depth: 1}, events[1])
	assert.Equal(t, Event{Kind: EventStackChanged, Depth: 1, Visible: 1}, events[2])
}

// --- Run ---

type countingPresenter struct {
	target *ebiten.Image
	frames atomic.Int32
}

func (p *countingPresenter) Begin() *ebiten.Image { return p.target }
func (p *countingPresenter) Present()             { p.frames.Add(1) }

func runEngine(t *testing.T, mode LockMode) {
	p := &countingPresenter{target: ebiten.NewImage(8, 8)}
	r := newRig(t, EngineOptions{Config: EngineConfig{StackLock: mode}, Presenter: p})
	a, ca := r.add(t, "a", ContextOptions{})
	var rendered atomic.Int32
	ca.OnRender = func(*ebiten.Image) { rendered.Add(1) }
	ca.OnUpdate = func(float64) {
		ca.updates++
		if ca.updates == 20 {
			ca.Close()
		}
	}

	r.startLoaders(t, func(m *ThreadManager) {
		require.NoError(t, m.Register(ThreadRender, r.e.RenderLoop))
	})
	require.NoError(t, r.e.OpenContextStack(a))

	done := make(chan error, 1)
	go func() { done <- r.e.Run() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		r.rt.Quit()
		t.Fatal("run did not end after the stack emptied")
	}

	assert.Equal(t, 20, ca.updates)
	assert.True(t, r.rt.QuitRequested())
	assert.False(t, r.rt.Failed())
	assert.False(t, ca.Running(), "stopped by shutdown")
	assert.Nil(t, r.e.CurrentContextGroup())
	if mode == LockTurns {
		// Strict alternation: every tick but possibly the last is followed
		// by a frame.
		assert.GreaterOrEqual(t, int(rendered.Load()), 19)
	}
	assert.GreaterOrEqual(t, p.frames.Load(), rendered.Load())
}

func TestEngine_RunMutex(t *testing.T) { runEngine(t, LockMutex) }
func TestEngine_RunTurns(t *testing.T) { runEngine(t, LockTurns) }

func TestEngine_StepNeedsRenderLoopInTurnsMode(t *testing.T) {
	r := newRig(t, EngineOptions{Config: EngineConfig{StackLock: LockTurns}})
	a, _ := r.add(t, "a", ContextOptions{})
	require.NoError(t, r.e.OpenContextStack(a))

	done := make(chan error, 1)
	go func() {
		_, err := r.e.Step(1.0 / 60)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNoRenderLoop)
	case <-time.After(2 * time.Second):
		r.rt.Quit()
		t.Fatal("step blocked without a render loop")
	}
}

func TestEngine_RunTwice(t *testing.T) {
	r := newRig(t, EngineOptions{})
	require.NoError(t, r.e.Run())
	assert.Error(t, r.e.Run())
}

func TestEngine_PanicInUpdateFailsRun(t *testing.T) {
	r := newRig(t, EngineOptions{})
	a, ca := r.add(t, "a", ContextOptions{})
	ca.OnUpdate = func(float64) { panic("bad update") }
	require.NoError(t, r.e.OpenContextStack(a))

	err := r.e.Run()
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.True(t, r.rt.Failed())
	assert.False(t, ca.Running())
}

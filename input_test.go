package bedrock

import (
	"sync/atomic"
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKeys reports the keys in down as just pressed.
type fakeKeys map[ebiten.Key]bool

func (f fakeKeys) justPressed(k ebiten.Key) bool { return f[k] }

func newTestInput(r *rig, keys InputMap, down fakeKeys) *engineInput {
	in := newEngineInput(keys, r.e)
	in.justPressed = down.justPressed
	return in
}

// --- Engine bindings ---

func TestEngineInput_PauseAndResume(t *testing.T) {
	r := newRig(t, EngineOptions{})
	down := fakeKeys{}
	in := newTestInput(r, InputMap{ActionPause: ebiten.KeyP, ActionResume: ebiten.KeyR}, down)

	in.poll()
	assert.False(t, r.e.IsPaused(), "nothing pressed")

	down[ebiten.KeyP] = true
	in.poll()
	assert.True(t, r.e.IsPaused())
	in.poll()
	assert.True(t, r.e.IsPaused(), "pause does not toggle with a resume key bound")

	down[ebiten.KeyP] = false
	down[ebiten.KeyR] = true
	in.poll()
	assert.False(t, r.e.IsPaused())
}

func TestEngineInput_PauseTogglesWithoutResume(t *testing.T) {
	r := newRig(t, EngineOptions{})
	in := newTestInput(r, InputMap{ActionPause: ebiten.KeyP}, fakeKeys{ebiten.KeyP: true})

	in.poll()
	assert.True(t, r.e.IsPaused())
	in.poll()
	assert.False(t, r.e.IsPaused())
}

func TestEngineInput_Quit(t *testing.T) {
	r := newRig(t, EngineOptions{})
	in := newTestInput(r, InputMap{ActionQuit: ebiten.KeyEscape}, fakeKeys{ebiten.KeyEscape: true})

	in.poll()
	assert.True(t, r.rt.QuitRequested())
	assert.False(t, r.rt.Failed())
}

func TestEngineInput_UnboundActionsIgnored(t *testing.T) {
	r := newRig(t, EngineOptions{})
	in := newTestInput(r, InputMap{"confirm": ebiten.KeyEnter}, fakeKeys{ebiten.KeyEnter: true})

	in.poll()
	assert.False(t, r.e.IsPaused())
	assert.False(t, r.rt.QuitRequested())
}

func TestEbitenPresenter_BindingsRunBeforeOnUpdate(t *testing.T) {
	r := newRig(t, EngineOptions{})
	p := NewEbitenPresenter(r.rt, 4, 4)
	p.input = newTestInput(r, InputMap{ActionPause: ebiten.KeyP}, fakeKeys{ebiten.KeyP: true})
	var sawPaused bool
	p.OnUpdate = func() error { sawPaused = r.e.IsPaused(); return nil }

	require.NoError(t, p.Update())
	assert.True(t, sawPaused, "user hook runs after the engine bindings")
}

func TestNewApp_BindsConfiguredInput(t *testing.T) {
	log := zerolog.Nop()
	cfg, err := ParseConfig([]byte(appConfig))
	require.NoError(t, err)
	cfg.Input = InputMap{ActionQuit: ebiten.KeyEscape}

	a, err := NewApp(cfg, AppOptions{Registry: testRegistry(new(atomic.Int32), nil), Log: &log, FS: appFS()})
	require.NoError(t, err)
	t.Cleanup(a.Quit)
	p, ok := a.Presenter.(*EbitenPresenter)
	require.True(t, ok)
	require.NotNil(t, p.input)
	assert.Same(t, a.Engine, p.input.engine)

	cfg.Input = nil
	a, err = NewApp(cfg, AppOptions{Registry: testRegistry(new(atomic.Int32), nil), Log: &log, FS: appFS()})
	require.NoError(t, err)
	t.Cleanup(a.Quit)
	assert.Nil(t, a.Presenter.(*EbitenPresenter).input)
}

package bedrock

import (
	"maps"
	"slices"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// InputMap binds action names to keys. In configuration it is an object of
// action to Ebitengine key name, e.g. {"confirm": "Enter", "back": "Escape"}.
type InputMap map[string]ebiten.Key

// Key returns the key bound to action.
func (m InputMap) Key(action string) (ebiten.Key, bool) {
	k, ok := m[action]
	return k, ok
}

// Pressed reports whether the key bound to action is held.
func (m InputMap) Pressed(action string) bool {
	k, ok := m[action]
	return ok && ebiten.IsKeyPressed(k)
}

// JustPressed reports whether the key bound to action went down this tick.
func (m InputMap) JustPressed(action string) bool {
	k, ok := m[action]
	return ok && inpututil.IsKeyJustPressed(k)
}

// Actions returns the bound action names in order.
func (m InputMap) Actions() []string {
	return slices.Sorted(maps.Keys(m))
}

// Actions NewApp binds to the engine when they appear in the input map.
const (
	ActionQuit   = "quit"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// engineInput turns the quit, pause and resume actions into engine calls.
// With no separate resume key, pause toggles.
type engineInput struct {
	keys        InputMap
	engine      *Engine
	justPressed func(ebiten.Key) bool
}

func newEngineInput(keys InputMap, e *Engine) *engineInput {
	return &engineInput{keys: keys, engine: e, justPressed: inpututil.IsKeyJustPressed}
}

func (in *engineInput) pressed(action string) bool {
	k, ok := in.keys[action]
	return ok && in.justPressed(k)
}

// poll runs on the Ebitengine goroutine once per tick.
func (in *engineInput) poll() {
	switch {
	case in.pressed(ActionQuit):
		in.engine.Quit()
	case in.pressed(ActionPause):
		pk := in.keys[ActionPause]
		rk, ok := in.keys[ActionResume]
		if in.engine.IsPaused() && (!ok || rk == pk) {
			in.engine.Resume()
		} else {
			in.engine.Pause()
		}
	case in.pressed(ActionResume):
		in.engine.Resume()
	}
}

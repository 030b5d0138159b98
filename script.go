package bedrock

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// scriptStep is a single action in a stack script.
type scriptStep struct {
	Action  string   `json:"action"`
	Context string   `json:"context,omitempty"` // "name" or "group/name"
	Group   string   `json:"group,omitempty"`
	Frames  int      `json:"frames,omitempty"`
	DT      float64  `json:"dt,omitempty"`
	Window  []string `json:"window,omitempty"`
}

type stackScript struct {
	Steps []scriptStep `json:"steps"`
}

// StackScript replays a JSON sequence of stack requests against an engine,
// ticking it with Step and checking the visible window along the way.
//
//	{"steps": [
//	  {"action": "push", "context": "menu"},
//	  {"action": "tick"},
//	  {"action": "expect", "window": ["menu"]}
//	]}
//
// Actions: push, pop, reset, transfer, close (marks the top closed),
// open_stack, open_group, pause, resume, tick (frames, dt), expect (window).
type StackScript struct {
	steps []scriptStep
}

// LoadStackScript parses a JSON stack script.
func LoadStackScript(jsonData []byte) (*StackScript, error) {
	var script stackScript
	if err := json.Unmarshal(jsonData, &script); err != nil {
		return nil, fmt.Errorf("parse stack script: %w", err)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("parse stack script: no steps")
	}
	return &StackScript{steps: script.Steps}, nil
}

// Len returns the number of steps.
func (s *StackScript) Len() int { return len(s.steps) }

// Run executes every step on the calling goroutine, which becomes the
// update goroutine for the duration. It stops at the first failing step.
func (s *StackScript) Run(e *Engine) error {
	for i, st := range s.steps {
		if err := s.step(e, st); err != nil {
			return fmt.Errorf("stack script step %d (%s): %w", i+1, st.Action, err)
		}
	}
	return nil
}

func (s *StackScript) step(e *Engine, st scriptStep) error {
	switch st.Action {
	case "push", "reset", "transfer", "open_stack":
		h, err := e.lookup(st.Context)
		if err != nil {
			return err
		}
		switch st.Action {
		case "push":
			return e.OpenContext(h)
		case "reset":
			return e.PushOperation(ResetOp(h))
		case "transfer":
			return e.PushOperation(TransferOp(h))
		default:
			return e.OpenContextStack(h)
		}
	case "pop":
		return e.CloseContext()
	case "close":
		h, err := e.lookup(st.Context)
		if err != nil {
			return err
		}
		c, ok := e.cm.Resolve(h).(interface{ Close() })
		if !ok {
			return fmt.Errorf("context %q cannot be closed directly", st.Context)
		}
		c.Close()
		return nil
	case "open_group":
		g, ok := e.cm.ContextGroup(st.Group)
		if !ok {
			return fmt.Errorf("%q: %w", st.Group, ErrUnknownGroup)
		}
		if !e.OpenContextGroup(g) {
			return fmt.Errorf("group %q rejected", st.Group)
		}
		return nil
	case "pause":
		e.Pause()
		return nil
	case "resume":
		e.Resume()
		return nil
	case "tick":
		frames := max(st.Frames, 1)
		dt := st.DT
		if dt == 0 {
			dt = 1.0 / 60
		}
		for range frames {
			if _, err := e.Step(dt); err != nil {
				return err
			}
		}
		return nil
	case "expect":
		got := e.VisibleContexts()
		want := st.Window
		if want == nil {
			want = []string{}
		}
		if got == nil {
			got = []string{}
		}
		if !slices.Equal(got, want) {
			return fmt.Errorf("window = %v, want %v", got, want)
		}
		return nil
	}
	return fmt.Errorf("unknown action")
}

// lookup resolves "group/name", or a bare name in the current group and
// then the global group.
func (e *Engine) lookup(ref string) (ContextHandle, error) {
	if group, name, ok := strings.Cut(ref, "/"); ok {
		g, found := e.cm.ContextGroup(group)
		if !found {
			return ContextHandle{}, fmt.Errorf("%q: %w", group, ErrUnknownGroup)
		}
		if h, found := g.Handle(name); found {
			return h, nil
		}
		return ContextHandle{}, fmt.Errorf("%q: %w", ref, ErrUnknownContext)
	}
	for _, g := range []*ContextGroup{e.cm.CurrentContextGroup(), e.cm.global} {
		if g == nil {
			continue
		}
		if h, found := g.Handle(ref); found {
			return h, nil
		}
	}
	return ContextHandle{}, fmt.Errorf("%q: %w", ref, ErrUnknownContext)
}

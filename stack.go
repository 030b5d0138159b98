package bedrock

import (
	"fmt"
	"slices"
)

// ContextStack is the ordered set of open contexts, bottom first. It is not
// safe for concurrent use; the engine guards it with the stack lock.
//
// The visible window is the top slice of the stack that is updated and
// rendered. It runs from the first context below the top that overrides its
// predecessors (or the bottom) up to the top, and is only recomputed after a
// structural change.
type ContextStack struct {
	resolve func(ContextHandle) Context
	handles []ContextHandle
	window  []Context
	dirty   bool

	// OnLifecycle, when set, is told about every context started or
	// stopped by the stack.
	OnLifecycle func(kind EventKind, c Context)
}

// NewContextStack returns an empty stack resolving handles with resolve.
func NewContextStack(resolve func(ContextHandle) Context) *ContextStack {
	return &ContextStack{resolve: resolve}
}

func (s *ContextStack) Len() int    { return len(s.handles) }
func (s *ContextStack) Empty() bool { return len(s.handles) == 0 }

// Dirty reports a structural change since the last Refresh.
func (s *ContextStack) Dirty() bool { return s.dirty }

// Top returns the handle of the top context.
func (s *ContextStack) Top() (ContextHandle, bool) {
	if len(s.handles) == 0 {
		return ContextHandle{}, false
	}
	return s.handles[len(s.handles)-1], true
}

// Handles returns a copy of the stack, bottom first.
func (s *ContextStack) Handles() []ContextHandle { return slices.Clone(s.handles) }

// Contains reports whether h is on the stack.
func (s *ContextStack) Contains(h ContextHandle) bool { return slices.Contains(s.handles, h) }

func (s *ContextStack) emit(kind EventKind, c Context) {
	if s.OnLifecycle != nil {
		s.OnLifecycle(kind, c)
	}
}

func (s *ContextStack) start(c Context) {
	c.StartContext()
	s.emit(EventContextStarted, c)
}

func (s *ContextStack) stop(c Context) {
	c.StopContext()
	s.emit(EventContextStopped, c)
}

func (s *ContextStack) top() Context {
	if len(s.handles) == 0 {
		return nil
	}
	return s.resolve(s.handles[len(s.handles)-1])
}

func (s *ContextStack) push(h ContextHandle) (Context, error) {
	c := s.resolve(h)
	if c == nil {
		return nil, fmt.Errorf("push %s: %w", h, ErrUnknownContext)
	}
	if s.Contains(h) {
		return nil, fmt.Errorf("push %s (%s): %w", h, c.Name(), ErrAlreadyOpen)
	}
	s.handles = append(s.handles, h)
	s.dirty = true
	return c, nil
}

// stopTop stops and removes the top context.
func (s *ContextStack) stopTop() {
	if c := s.top(); c != nil {
		s.stop(c)
	}
	s.handles = s.handles[:len(s.handles)-1]
	s.dirty = true
}

func (s *ContextStack) resumeTop() {
	if c := s.top(); c != nil {
		c.ResumeContext()
	}
}

// Push pauses the current top, pushes h and starts it.
func (s *ContextStack) Push(h ContextHandle) error {
	c := s.resolve(h)
	if c == nil {
		return fmt.Errorf("push %s: %w", h, ErrUnknownContext)
	}
	if s.Contains(h) {
		return fmt.Errorf("push %s (%s): %w", h, c.Name(), ErrAlreadyOpen)
	}
	if top := s.top(); top != nil {
		top.PauseContext()
	}
	if _, err := s.push(h); err != nil {
		return err
	}
	s.start(c)
	return nil
}

// Pop stops and removes the top context and resumes the one below. It
// reports false on an empty stack.
func (s *ContextStack) Pop() bool {
	if s.Empty() {
		return false
	}
	s.stopTop()
	s.resumeTop()
	return true
}

// Reset stops every context and leaves h as the only one. An observer
// holding the stack lock never sees the stack empty.
func (s *ContextStack) Reset(h ContextHandle) error {
	c := s.resolve(h)
	if c == nil {
		return fmt.Errorf("reset %s: %w", h, ErrUnknownContext)
	}
	s.StopAll()
	if _, err := s.push(h); err != nil {
		return err
	}
	s.start(c)
	return nil
}

// Transfer replaces the top context with h.
func (s *ContextStack) Transfer(h ContextHandle) error {
	c := s.resolve(h)
	if c == nil {
		return fmt.Errorf("transfer %s: %w", h, ErrUnknownContext)
	}
	if top, ok := s.Top(); ok && top != h && s.Contains(h) {
		return fmt.Errorf("transfer %s (%s): %w", h, c.Name(), ErrAlreadyOpen)
	}
	if !s.Empty() {
		s.stopTop()
	}
	if _, err := s.push(h); err != nil {
		return err
	}
	s.start(c)
	return nil
}

// Apply performs op. A pop on an empty stack reports false and no error.
func (s *ContextStack) Apply(op StackOperation) (bool, error) {
	switch op.Kind {
	case OpPush:
		return true, s.Push(op.Context)
	case OpPop:
		return s.Pop(), nil
	case OpReset:
		return true, s.Reset(op.Context)
	case OpTransfer:
		return true, s.Transfer(op.Context)
	}
	return false, fmt.Errorf("apply %s: unknown operation", op)
}

// StopAll resumes and stops every context, top first, and empties the stack.
func (s *ContextStack) StopAll() {
	for i := len(s.handles) - 1; i >= 0; i-- {
		if c := s.resolve(s.handles[i]); c != nil {
			c.ResumeContext()
			s.stop(c)
		}
	}
	if len(s.handles) > 0 {
		s.dirty = true
	}
	s.handles = s.handles[:0]
}

// PopClosed removes closed contexts from the top, running their stop hooks,
// and resumes the new top if anything was removed. Contexts whose handle no
// longer resolves count as closed.
func (s *ContextStack) PopClosed() int {
	n := 0
	for !s.Empty() {
		c := s.top()
		if c != nil && !c.Closed() {
			break
		}
		s.stopTop()
		n++
	}
	if n > 0 {
		s.resumeTop()
	}
	return n
}

// Refresh recomputes the visible window after a structural change. It
// reports whether anything was recomputed.
func (s *ContextStack) Refresh() bool {
	if !s.dirty {
		return false
	}
	s.dirty = false
	ctxs := make([]Context, 0, len(s.handles))
	for _, h := range s.handles {
		if c := s.resolve(h); c != nil {
			ctxs = append(ctxs, c)
		}
	}
	start := 0
	for i := len(ctxs) - 1; i >= 0; i-- {
		if ctxs[i].OverridesPreviousContext() {
			start = i
			break
		}
	}
	s.window = ctxs[start:]
	return true
}

// Window returns the visible contexts, bottom-most first. The slice is
// replaced, never mutated, on Refresh.
func (s *ContextStack) Window() []Context { return s.window }

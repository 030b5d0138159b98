package bedrock

import (
	"context"
	"errors"
	"time"
)

// preloadPoll bounds how long the render goroutine waits for the first
// update tick between texture upload batches.
const preloadPoll = 5 * time.Millisecond

// RenderLoop is the render goroutine body. Until the first update tick it
// only uploads textures; afterwards each frame renders the visible window
// under the stack lock, presents it outside the lock, then uploads a
// budgeted batch of pending textures.
func (e *Engine) RenderLoop(h *ThreadHandler) error {
	e.renderStarted.Store(true)
	defer e.renderOnce.Do(func() { close(e.renderDone) })
	if !h.Start() {
		return nil
	}
	h.Running()
	defer h.Closing()
	ctx := h.Context()

	// In turns mode the update side cannot take its first turn until both
	// sides are registered.
	if tl, ok := e.renderLock.(*turnLock); ok {
		if err := tl.register(ctx); err != nil {
			if e.rt.QuitRequested() {
				return nil
			}
			return err
		}
	}

	for h.Good() && !e.ticked.Load() {
		e.dm.UploadPending(0)
		e.ticked.WaitFor(func(v bool) bool { return v }, preloadPoll)
	}
	e.renderTimer.Skip()

	interval := e.cfg.RenderInterval.Std()
	if interval == 0 && e.presenter == nil {
		interval = time.Second / 60
	}
	for h.Good() {
		start := time.Now()
		if err := e.renderFrame(ctx); err != nil {
			if e.rt.QuitRequested() || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		e.dm.UploadPending(e.cfg.UploadBudget)
		e.renderTimer.Lap()
		if d := interval - time.Since(start); d > 0 {
			time.Sleep(d)
		}
	}
	return nil
}

func (e *Engine) renderFrame(ctx context.Context) error {
	if err := e.renderLock.Lock(ctx); err != nil {
		return err
	}
	if e.presenter == nil {
		e.renderLock.Unlock()
		return nil
	}
	func() {
		defer e.renderLock.Unlock()
		target := e.presenter.Begin()
		for _, c := range e.stack.Window() {
			c.Render(target)
		}
	}()
	e.presenter.Present()
	return nil
}

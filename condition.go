package bedrock

import (
	"sync"
	"time"
)

// Condition bundles a mutex, a condition variable and the value they guard.
// Every mutation broadcasts. Waits give up as soon as the run is quitting.
type Condition[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value T
	rt    *RuntimeState
}

// NewCondition creates a condition holding initial and registers it with rt
// for the shutdown sweep.
func NewCondition[T any](rt *RuntimeState, initial T) *Condition[T] {
	c := &Condition[T]{value: initial, rt: rt}
	c.cond = sync.NewCond(&c.mu)
	rt.register(c)
	return c
}

// Load returns a copy of the current value.
func (c *Condition[T]) Load() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// View calls fn with the value while holding the lock. fn must not retain
// references into reference-typed values.
func (c *Condition[T]) View(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.value)
}

// Set replaces the value and wakes all waiters.
func (c *Condition[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Update mutates the value in place under the lock and wakes all waiters.
func (c *Condition[T]) Update(fn func(v *T)) {
	c.mu.Lock()
	fn(&c.value)
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Wait blocks until pred holds for the value. It returns false when it was
// released by shutdown before pred became true.
func (c *Condition[T]) Wait(pred func(T) bool) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for !pred(c.value) {
		if c.rt.QuitRequested() {
			return c.value, false
		}
		c.cond.Wait()
	}
	return c.value, true
}

// WaitFor is Wait with a deadline.
func (c *Condition[T]) WaitFor(pred func(T) bool, timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, c.Broadcast)
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for !pred(c.value) {
		if c.rt.QuitRequested() || !time.Now().Before(deadline) {
			return c.value, false
		}
		c.cond.Wait()
	}
	return c.value, true
}

// Broadcast wakes all waiters. The lock is taken first so a waiter between
// its predicate check and cond.Wait cannot miss the wake-up.
func (c *Condition[T]) Broadcast() {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

package bedrock

import (
	"sync"
	"time"
)

// FrameStats summarises the frames measured since the last reset.
type FrameStats struct {
	Frames int
	AvgFPS float64
	MinFPS float64 // from the slowest frame
	MaxFPS float64 // from the fastest frame
}

// FrameTimer measures frame intervals. Lap is called once per frame by the
// owning loop; Stats may be read from any goroutine.
type FrameTimer struct {
	mu      sync.Mutex
	now     func() time.Time
	last    time.Time
	frames  int
	elapsed time.Duration
	fastest time.Duration
	slowest time.Duration
}

// NewFrameTimer starts a timer at the current time.
func NewFrameTimer() *FrameTimer {
	t := &FrameTimer{now: time.Now}
	t.last = t.now()
	return t
}

// Reset forgets all measurements. The interval clock keeps running, so the
// next Lap still spans the whole frame.
func (t *FrameTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = 0
	t.elapsed = 0
	t.fastest = 0
	t.slowest = 0
}

// Lap ends the current frame and returns its length in seconds.
func (t *FrameTimer) Lap() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	d := now.Sub(t.last)
	t.last = now
	if d <= 0 {
		return 0
	}
	t.frames++
	t.elapsed += d
	if t.fastest == 0 || d < t.fastest {
		t.fastest = d
	}
	if d > t.slowest {
		t.slowest = d
	}
	return d.Seconds()
}

// Skip restarts the interval clock without recording a frame.
func (t *FrameTimer) Skip() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

// Measured reports whether at least one frame was recorded.
func (t *FrameTimer) Measured() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames > 0
}

// Stats returns the figures since the last Reset.
func (t *FrameTimer) Stats() FrameStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frames == 0 {
		return FrameStats{}
	}
	return FrameStats{
		Frames: t.frames,
		AvgFPS: float64(t.frames) / t.elapsed.Seconds(),
		MinFPS: 1 / t.slowest.Seconds(),
		MaxFPS: 1 / t.fastest.Seconds(),
	}
}

// Package fps implements per-target adaptive capture pacing.
package fps

import (
	"sync"
	"time"
)

const (
	// MinFPS and MaxFPS bound the configurable capture rate.
	MinFPS = 1
	MaxFPS = 60

	// historySize bounds the inter-frame interval history used to compute
	// the achieved rate.
	historySize = 30
)

// Controller decides when a target is due for capture and reports the rate
// it actually achieves. Each Controller is owned by exactly one capture
// scheduler; Retarget and AchievedFPS may be called from other goroutines,
// so all state is mutex-guarded.
type Controller struct {
	mu             sync.Mutex
	targetInterval time.Duration
	lastCapture    time.Time
	intervals      []time.Duration

	now func() time.Time // Injectable clock for tests
}

// NewController creates a Controller for the given target rate. The rate is
// clamped to [MinFPS, MaxFPS].
func NewController(targetFPS int) *Controller {
	c := &Controller{
		intervals: make([]time.Duration, 0, historySize),
		now:       time.Now,
	}
	c.Retarget(targetFPS)
	return c
}

// Clamp bounds an FPS value to the supported range.
func Clamp(fps int) int {
	if fps < MinFPS {
		return MinFPS
	}
	if fps > MaxFPS {
		return MaxFPS
	}
	return fps
}

// ShouldCapture reports whether enough wall-clock time has elapsed since the
// last recorded capture. It never sleeps or blocks; the caller decides how
// to wait.
func (c *Controller) ShouldCapture() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastCapture.IsZero() {
		return true
	}
	return c.now().Sub(c.lastCapture) >= c.targetInterval
}

// RecordCapture marks a successful capture, updating the timestamp and the
// bounded interval history.
func (c *Controller) RecordCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastCapture.IsZero() {
		c.intervals = append(c.intervals, now.Sub(c.lastCapture))
		if len(c.intervals) > historySize {
			c.intervals = c.intervals[1:]
		}
	}
	c.lastCapture = now
}

// AchievedFPS returns the empirically measured capture rate, or 0 when fewer
// than 2 interval samples exist.
func (c *Controller) AchievedFPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.intervals) < 2 {
		return 0
	}

	var total time.Duration
	for _, iv := range c.intervals {
		total += iv
	}
	mean := total / time.Duration(len(c.intervals))
	if mean <= 0 {
		return 0
	}
	return float64(time.Second) / float64(mean)
}

// Retarget changes the target rate, clamping to the supported range, and
// returns the clamped value. The new interval takes effect on the next
// ShouldCapture call.
func (c *Controller) Retarget(targetFPS int) int {
	clamped := Clamp(targetFPS)

	c.mu.Lock()
	c.targetInterval = time.Second / time.Duration(clamped)
	c.mu.Unlock()

	return clamped
}

// TargetInterval returns the current pacing interval.
func (c *Controller) TargetInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetInterval
}

package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/yamori-dev/screenwatch/internal/fps"
	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

// target is one registered capture source. The owning scheduler goroutine
// is the only writer of captureCount, errorCount and seq; active is flipped
// by API calls and observed by the scheduler.
type target struct {
	id   string
	kind types.TargetKind
	desc types.TargetDescriptor

	pacer     *fps.Controller
	targetFPS atomic.Int64

	active       atomic.Bool
	captureCount atomic.Uint64
	errorCount   atomic.Uint64
	seq          atomic.Uint64

	// gen identifies the scheduler goroutine currently owning the target.
	// Incremented on every spawn; a loop holding a stale generation exits
	// instead of racing the respawned one. A deactivate/activate toggle can
	// otherwise leave a sleeping old loop that wakes to find active=true.
	gen atomic.Uint64

	// done is non-nil while a scheduler goroutine owns the target and is
	// closed when that goroutine exits. Replaced only under Controller.mu.
	done chan struct{}
}

func newTarget(id string, kind types.TargetKind, desc types.TargetDescriptor, targetFPS int) *target {
	t := &target{
		id:    id,
		kind:  kind,
		desc:  desc,
		pacer: fps.NewController(targetFPS),
	}
	t.targetFPS.Store(int64(fps.Clamp(targetFPS)))
	t.active.Store(true)
	return t
}

// AddScreenTarget registers a display as a capture target and returns its
// id. Re-adding an existing screen retargets its rate and returns the same
// id. Returns ErrTargetNotFound when the display cannot be resolved.
func (c *Controller) AddScreenTarget(screenIndex, targetFPS int) (string, error) {
	if !c.capturer.ResolveScreen(screenIndex) {
		return "", fmt.Errorf("screen %d: %w", screenIndex, ErrTargetNotFound)
	}
	desc := types.TargetDescriptor{Screen: screenIndex}
	id := fmt.Sprintf("screen_%d", screenIndex)
	return c.addTarget(id, types.KindScreen, desc, targetFPS)
}

// AddWindowTarget registers the first window whose title contains the given
// substring. Returns ErrTargetNotFound when no window matches.
func (c *Controller) AddWindowTarget(titleSubstring string, targetFPS int) (string, error) {
	desc, ok := c.capturer.ResolveWindow(titleSubstring)
	if !ok {
		return "", fmt.Errorf("window %q: %w", titleSubstring, ErrTargetNotFound)
	}
	id := fmt.Sprintf("window_%d", desc.WindowHandle)
	return c.addTarget(id, types.KindWindow, desc, targetFPS)
}

func (c *Controller) addTarget(id string, kind types.TargetKind, desc types.TargetDescriptor, targetFPS int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.targets[id]; ok {
		existing.targetFPS.Store(int64(existing.pacer.Retarget(targetFPS)))
		return id, nil
	}

	t := newTarget(id, kind, desc, targetFPS)
	c.targets[id] = t
	c.metrics.TotalTargets.Add(1)
	c.metrics.ActiveTargets.Add(1)

	if c.running {
		c.spawnSchedulerLocked(t)
	}

	logger.Info("StreamController", "target %s added (%d fps)", id, fps.Clamp(targetFPS))
	return id, nil
}

// RemoveTarget deactivates a target, joins its scheduler goroutine with a
// bounded timeout and removes the registry entry. The entry is removed even
// when the join times out; the goroutine observes active=false and exits on
// its own shortly after.
func (c *Controller) RemoveTarget(id string) error {
	c.mu.Lock()
	t, ok := c.targets[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrTargetNotFound)
	}
	wasActive := t.active.Swap(false)
	done := t.done
	delete(c.targets, id)
	c.mu.Unlock()

	if wasActive {
		c.metrics.ActiveTargets.Add(^uint64(0))
	}

	if done != nil && !waitClosed(done, c.cfg.JoinTimeout) {
		logger.Warn("StreamController", "target %s removed but scheduler did not exit in time", id)
		return fmt.Errorf("%s: %w", id, ErrShutdownTimeout)
	}

	logger.Info("StreamController", "target %s removed", id)
	return nil
}

// SetTargetActive flips a target's active flag. Deactivating stops its
// scheduler goroutine; activating while Running spawns one. Returns false
// for an unknown id.
func (c *Controller) SetTargetActive(id string, active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.targets[id]
	if !ok {
		return false
	}

	was := t.active.Swap(active)
	if was == active {
		return true
	}

	if active {
		c.metrics.ActiveTargets.Add(1)
		if c.running {
			c.spawnSchedulerLocked(t)
		}
	} else {
		c.metrics.ActiveTargets.Add(^uint64(0))
	}
	return true
}

// AdjustTargetFPS retargets a single capture source at runtime. Returns
// false for an unknown id; other targets are unaffected either way.
func (c *Controller) AdjustTargetFPS(id string, targetFPS int) bool {
	c.mu.Lock()
	t, ok := c.targets[id]
	c.mu.Unlock()

	if !ok {
		return false
	}
	clamped := t.pacer.Retarget(targetFPS)
	t.targetFPS.Store(int64(clamped))
	logger.Debug("StreamController", "target %s retargeted to %d fps", id, clamped)
	return true
}

// TargetIDs returns the ids of all registered targets.
func (c *Controller) TargetIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.targets))
	for id := range c.targets {
		ids = append(ids, id)
	}
	return ids
}

// TargetCounters returns a target's capture and error counters. The second
// return is false for an unknown id.
func (c *Controller) TargetCounters(id string) (captures, errors uint64, ok bool) {
	c.mu.Lock()
	t, found := c.targets[id]
	c.mu.Unlock()

	if !found {
		return 0, 0, false
	}
	return t.captureCount.Load(), t.errorCount.Load(), true
}

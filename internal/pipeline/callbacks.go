package pipeline

import (
	"github.com/google/uuid"

	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

// RegisterCallback adds a result consumer and returns its registration
// token. Callbacks run synchronously on the detection worker in
// registration order; keep them fast or hand off internally.
func (c *Controller) RegisterCallback(fn ResultCallback) string {
	id := uuid.NewString()

	c.mu.Lock()
	c.callbacks = append(c.callbacks, callbackEntry{id: id, fn: fn})
	count := len(c.callbacks)
	c.mu.Unlock()

	logger.Debug("StreamController", "callback %s registered (total %d)", id, count)
	return id
}

// UnregisterCallback removes a previously registered callback. Returns
// false for an unknown token.
func (c *Controller) UnregisterCallback(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, entry := range c.callbacks {
		if entry.id == id {
			c.callbacks = append(c.callbacks[:i], c.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

// invokeCallbacks delivers a result to every registered callback. The list
// may be mutated concurrently with delivery, so iteration runs over a
// snapshot copy. A panicking callback is recovered and logged; it neither
// stops the loop nor affects other callbacks.
func (c *Controller) invokeCallbacks(result *types.DetectionResult) {
	c.mu.Lock()
	snapshot := make([]callbackEntry, len(c.callbacks))
	copy(snapshot, c.callbacks)
	c.mu.Unlock()

	for _, entry := range snapshot {
		c.safeInvoke(entry, result)
	}
}

func (c *Controller) safeInvoke(entry callbackEntry, result *types.DetectionResult) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.CallbackPanics.Add(1)
			logger.Error("DetectionWorker", "callback %s panicked: %v", entry.id, r)
		}
	}()
	entry.fn(result)
}

// DrainLatestResults pops up to maxCount results from the result queue
// without blocking. The pipeline degrades gracefully to callbacks only if
// nothing ever drains this queue.
func (c *Controller) DrainLatestResults(maxCount int) []*types.DetectionResult {
	if maxCount <= 0 {
		return nil
	}

	results := make([]*types.DetectionResult, 0, maxCount)
	for len(results) < maxCount {
		select {
		case r := <-c.resultQ:
			results = append(results, r)
		default:
			return results
		}
	}
	return results
}

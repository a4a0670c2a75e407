package pipeline

import (
	"image"
	"time"

	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

// spawnSchedulerLocked starts the capture goroutine for a target. Caller
// holds c.mu, the pipeline is Running and the target is active.
func (c *Controller) spawnSchedulerLocked(t *target) {
	gen := t.gen.Add(1)
	t.done = make(chan struct{})
	go c.captureLoop(t, gen, c.stopCh, t.done)
}

// captureLoop drives one target: poll the pacer, capture when due, enqueue
// non-blocking. Capture cadence is never slaved to detection throughput; a
// full queue drops the frame. Exits when the stream stops, the target is
// deactivated or a newer loop has been spawned for it, within one polling
// interval.
func (c *Controller) captureLoop(t *target, gen uint64, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	c.schedulersRunning.Add(1)
	defer c.schedulersRunning.Add(-1)

	logger.Debug("CaptureScheduler", "target %s: loop started", t.id)
	defer logger.Debug("CaptureScheduler", "target %s: loop exited", t.id)

	failStreak := 0

	for {
		select {
		case <-stopCh:
			return
		default:
		}
		if !t.active.Load() || t.gen.Load() != gen {
			return
		}

		if !t.pacer.ShouldCapture() {
			time.Sleep(schedulerYield)
			continue
		}

		var img image.Image
		switch t.kind {
		case types.KindScreen:
			img = c.capturer.CaptureScreen(t.desc)
		case types.KindWindow:
			img = c.capturer.CaptureWindow(t.desc)
		}

		if img == nil {
			t.errorCount.Add(1)
			c.metrics.CaptureErrors.Add(1)
			failStreak++
			if failStreak > captureErrorThreshold {
				logger.Warn("CaptureScheduler", "target %s: %d consecutive capture failures, backing off", t.id, failStreak)
				select {
				case <-stopCh:
					return
				case <-time.After(captureBackoff):
				}
				failStreak = 0
			}
			continue
		}
		failStreak = 0

		frame := &types.CapturedFrame{
			TargetID:  t.id,
			Image:     img,
			Timestamp: time.Now(),
			Sequence:  t.seq.Add(1),
		}

		// Ownership of frame.Image transfers on successful enqueue.
		select {
		case c.captureQ <- frame:
			t.pacer.RecordCapture()
			t.captureCount.Add(1)
			c.metrics.FramesCaptured.Add(1)
		default:
			c.metrics.FramesDropped.Add(1)
		}
	}
}

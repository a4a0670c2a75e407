package pipeline

import (
	"time"

	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

// detectionLoop is the single consumer of the capture queue. Exactly one
// instance runs regardless of target count: detector implementations are
// rarely safe to call concurrently, and parallel inference fights over the
// accelerator anyway.
func (c *Controller) detectionLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	c.workerRunning.Store(true)
	defer c.workerRunning.Store(false)

	logger.Debug("DetectionWorker", "loop started")
	defer logger.Debug("DetectionWorker", "loop exited")

	for {
		select {
		case <-stopCh:
			return
		case frame := <-c.captureQ:
			c.processFrame(frame)
		case <-time.After(workerPoll):
			// Recheck the stop signal on an idle queue.
		}
	}
}

// processFrame runs one frame through the detector and fans the result out.
// A failing detector skips the frame; it never terminates the loop.
func (c *Controller) processFrame(frame *types.CapturedFrame) {
	threshold := c.confidence.Load()

	start := time.Now()
	raw, err := c.detector.Detect(frame.Image, threshold)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.DetectFailures.Add(1)
		logger.Warn("DetectionWorker", "target %s: detection failed: %v", frame.TargetID, err)
		return
	}

	if limit := int(c.maxDetections.Load()); len(raw) > limit {
		raw = raw[:limit]
	}

	detections := make([]types.Detection, len(raw))
	for i, r := range raw {
		cx, cy := r.BBox.Center()
		detections[i] = types.Detection{
			BBox:       r.BBox,
			ClassName:  r.ClassName,
			Confidence: r.Confidence,
			Center:     [2]float64{cx, cy},
		}
	}

	result := &types.DetectionResult{
		TargetID:            frame.TargetID,
		Timestamp:           frame.Timestamp,
		Detections:          detections,
		Image:               frame.Image,
		ProcessingTimeMs:    float64(elapsed.Microseconds()) / 1000.0,
		ConfidenceThreshold: threshold,
	}

	c.metrics.FramesProcessed.Add(1)
	c.metrics.DetectionsTotal.Add(uint64(len(detections)))
	c.metrics.UpdateDetectLatency(elapsed)
	c.stats.recordProcessing(result.ProcessingTimeMs)

	c.invokeCallbacks(result)

	select {
	case c.resultQ <- result:
	default:
		c.metrics.ResultsDropped.Add(1)
	}

	c.metrics.UpdateQueueUsage(
		len(c.captureQ), cap(c.captureQ),
		len(c.resultQ), cap(c.resultQ),
	)
}

package pipeline

import (
	"sync"
	"time"

	"github.com/yamori-dev/screenwatch/pkg/types"
)

// aggregateStats tracks the running processing-time average incrementally,
// so no history is stored. Only the detection worker writes; Stats reads.
type aggregateStats struct {
	mu        sync.Mutex
	avgMs     float64
	processed uint64
	startTime time.Time
}

func (s *aggregateStats) markStart() {
	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()
}

func (s *aggregateStats) recordProcessing(ms float64) {
	s.mu.Lock()
	s.processed++
	s.avgMs += (ms - s.avgMs) / float64(s.processed)
	s.mu.Unlock()
}

func (s *aggregateStats) snapshot() (avgMs float64, uptime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime)
	}
	return s.avgMs, uptime
}

// Stats returns a snapshot of aggregate pipeline counters. Counters are
// atomics and the per-target rates are read under a brief registry lock;
// producers and the worker are never blocked on this path.
func (c *Controller) Stats() types.PipelineStats {
	avgMs, uptime := c.stats.snapshot()

	c.mu.Lock()
	perTarget := make(map[string]float64, len(c.targets))
	for id, t := range c.targets {
		perTarget[id] = t.pacer.AchievedFPS()
	}
	c.mu.Unlock()

	return types.PipelineStats{
		FramesCaptured:  c.metrics.FramesCaptured.Load(),
		FramesDropped:   c.metrics.FramesDropped.Load(),
		FramesProcessed: c.metrics.FramesProcessed.Load(),
		ResultsDropped:  c.metrics.ResultsDropped.Load(),
		TotalDetections: c.metrics.DetectionsTotal.Load(),
		DetectFailures:  c.metrics.DetectFailures.Load(),
		AvgProcessingMs: avgMs,
		TargetFPS:       perTarget,
		Uptime:          uptime,
	}
}

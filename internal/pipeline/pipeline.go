// Package pipeline implements the multi-target capture-and-detection
// pipeline: one capture scheduler goroutine per active target feeding a
// bounded queue, a single detection worker draining it, and fanout of
// results to callbacks and a bounded result queue.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yamori-dev/screenwatch/internal/capture"
	"github.com/yamori-dev/screenwatch/internal/detect"
	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/internal/metrics"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

var (
	// ErrNoTargets is returned by Start when the registry is empty.
	ErrNoTargets = errors.New("no capture targets registered")

	// ErrTargetNotFound is returned when a target id or source descriptor
	// cannot be resolved.
	ErrTargetNotFound = errors.New("target not found")

	// ErrShutdownTimeout reports a goroutine that did not exit within the
	// join bound. Non-fatal: the pipeline state is cleaned up regardless.
	ErrShutdownTimeout = errors.New("goroutine did not exit within join timeout")
)

const (
	// schedulerYield is the pause between pacing checks when a capture is
	// not yet due. Sub-millisecond keeps rate changes responsive without
	// busy-spinning.
	schedulerYield = 500 * time.Microsecond

	// captureErrorThreshold is the consecutive-failure count that triggers
	// a backoff on a persistently failing source.
	captureErrorThreshold = 10

	// captureBackoff is how long a failing target rests before retrying.
	captureBackoff = time.Second

	// workerPoll bounds how long the detection worker blocks on an empty
	// queue before rechecking the stop signal.
	workerPoll = 100 * time.Millisecond

	minConfidence = 0.1
	maxConfidence = 0.9

	defaultConfidence    = 0.5
	defaultMaxDetections = 20
)

// ResultCallback receives every detection result, invoked synchronously on
// the detection worker goroutine in registration order.
type ResultCallback func(*types.DetectionResult)

type callbackEntry struct {
	id string
	fn ResultCallback
}

// Controller orchestrates the pipeline lifecycle: target registry, queues,
// goroutine management, statistics and config snapshots.
type Controller struct {
	cfg      types.PipelineConfig
	capturer capture.Capturer
	detector detect.Detector
	metrics  *metrics.Metrics

	mu         sync.Mutex
	running    bool
	targets    map[string]*target
	callbacks  []callbackEntry
	stopCh     chan struct{}
	workerDone chan struct{}

	captureQ chan *types.CapturedFrame
	resultQ  chan *types.DetectionResult

	confidence    atomicFloat64
	maxDetections atomic.Int64

	schedulersRunning atomic.Int64
	workerRunning     atomic.Bool

	stats aggregateStats
}

// New creates a stopped Controller. The detector is invoked only from the
// single detection worker goroutine; the capturer may be invoked from every
// scheduler goroutine concurrently and must tolerate that.
func New(capturer capture.Capturer, detector detect.Detector, m *metrics.Metrics, cfg types.PipelineConfig) *Controller {
	def := types.DefaultPipelineConfig()
	if cfg.CaptureQueueSize <= 0 {
		cfg.CaptureQueueSize = def.CaptureQueueSize
	}
	if cfg.ResultQueueSize <= 0 {
		cfg.ResultQueueSize = def.ResultQueueSize
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if m == nil {
		m = metrics.New()
	}

	c := &Controller{
		cfg:      cfg,
		capturer: capturer,
		detector: detector,
		metrics:  m,
		targets:  make(map[string]*target),
		captureQ: make(chan *types.CapturedFrame, cfg.CaptureQueueSize),
		resultQ:  make(chan *types.DetectionResult, cfg.ResultQueueSize),
	}
	c.confidence.Store(defaultConfidence)
	c.maxDetections.Store(defaultMaxDetections)
	return c
}

// Start transitions the controller to Running: one capture scheduler per
// active target plus exactly one detection worker. Idempotent; starting a
// running controller is a no-op returning success.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if len(c.targets) == 0 {
		return ErrNoTargets
	}

	c.stopCh = make(chan struct{})
	c.workerDone = make(chan struct{})
	c.running = true
	c.stats.markStart()

	go c.detectionLoop(c.stopCh, c.workerDone)

	started := 0
	for _, t := range c.targets {
		if t.active.Load() {
			c.spawnSchedulerLocked(t)
			started++
		}
	}

	logger.Info("StreamController", "pipeline started (%d capture schedulers, 1 detection worker)", started)
	return nil
}

// Stop transitions to Stopped: signals every goroutine, joins each with a
// bounded timeout, drains both queues without processing their contents and
// resets goroutine handles. Idempotent. A goroutine overrunning the join
// bound is reported via ErrShutdownTimeout but never blocks completion.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	workerDone := c.workerDone
	joined := make(map[string]chan struct{}, len(c.targets))
	for id, t := range c.targets {
		if t.done != nil {
			joined[id] = t.done
		}
	}
	c.mu.Unlock()

	var overruns []string
	deadline := time.Now().Add(c.cfg.JoinTimeout)
	for id, done := range joined {
		if !waitClosed(done, time.Until(deadline)) {
			overruns = append(overruns, id)
		}
	}
	if !waitClosed(workerDone, c.cfg.JoinTimeout) {
		overruns = append(overruns, "detection-worker")
	}

	// Drain both queues without processing; captured images are dropped on
	// the floor so memory is released promptly.
	drained := drain(c.captureQ) + drain(c.resultQ)

	c.mu.Lock()
	c.stopCh = nil
	c.workerDone = nil
	for _, t := range c.targets {
		t.done = nil
	}
	c.mu.Unlock()

	c.metrics.UpdateQueueUsage(0, c.cfg.CaptureQueueSize, 0, c.cfg.ResultQueueSize)

	if len(overruns) > 0 {
		logger.Warn("StreamController", "stopped with %d unjoined goroutines: %s", len(overruns), strings.Join(overruns, ", "))
		return fmt.Errorf("%w: %s", ErrShutdownTimeout, strings.Join(overruns, ", "))
	}
	logger.Info("StreamController", "pipeline stopped (drained %d queued entries)", drained)
	return nil
}

// Running reports whether the pipeline is between Start and Stop.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetConfidenceThreshold clamps the value to [0.1, 0.9] and applies it to
// subsequent frames. Returns the clamped value.
func (c *Controller) SetConfidenceThreshold(value float64) float64 {
	clamped := math.Min(maxConfidence, math.Max(minConfidence, value))
	c.confidence.Store(clamped)
	return clamped
}

// ConfidenceThreshold returns the current detection threshold.
func (c *Controller) ConfidenceThreshold() float64 {
	return c.confidence.Load()
}

// SetMaxDetections bounds how many detections one result may carry.
func (c *Controller) SetMaxDetections(n int) int {
	if n < 1 {
		n = 1
	}
	c.maxDetections.Store(int64(n))
	return n
}

// MaxDetections returns the per-result detection cap.
func (c *Controller) MaxDetections() int {
	return int(c.maxDetections.Load())
}

// drain empties a channel without ever blocking. A receiver may still be
// alive (a worker that overran its join bound) and steal elements, so every
// receive must be able to give up rather than wait.
func drain[T any](ch <-chan T) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

// waitClosed waits for ch to close, bounded by timeout. A non-positive
// timeout degrades to a non-blocking check.
func waitClosed(ch <-chan struct{}, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// atomicFloat64 stores a float64 behind an atomic word so hot paths can
// read the confidence threshold without a lock.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

package pipeline

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/yamori-dev/screenwatch/internal/detect"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

func testFrame(targetID string, seq uint64) *types.CapturedFrame {
	return &types.CapturedFrame{
		TargetID:  targetID,
		Image:     image.NewRGBA(image.Rect(0, 0, 4, 4)),
		Timestamp: time.Now(),
		Sequence:  seq,
	}
}

func TestDetectorFailureSkipsOnlyThatFrame(t *testing.T) {
	det := &fakeDetector{fn: func(call int) ([]detect.RawDetection, error) {
		if call == 2 {
			return nil, errors.New("inference backend hiccup")
		}
		return []detect.RawDetection{{
			BBox: types.BBox{X1: 0, Y1: 0, X2: 2, Y2: 2}, ClassName: "motion", Confidence: 0.8,
		}}, nil
	}}
	c := newTestController(newFakeCapturer(1), det, types.PipelineConfig{})

	var got []uint64
	frames := []*types.CapturedFrame{
		testFrame("screen_0", 1), testFrame("screen_0", 2),
		testFrame("screen_0", 3), testFrame("screen_0", 4),
	}
	base := time.Now()
	seqByStamp := map[time.Time]uint64{}
	for i, f := range frames {
		f.Timestamp = base.Add(time.Duration(i) * time.Millisecond)
		seqByStamp[f.Timestamp] = f.Sequence
	}
	c.RegisterCallback(func(r *types.DetectionResult) {
		got = append(got, seqByStamp[r.Timestamp])
	})

	for _, f := range frames {
		c.processFrame(f)
	}

	want := []uint64{1, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result %d came from frame %d, want %d", i, got[i], want[i])
		}
	}
	if n := c.metrics.DetectFailures.Load(); n != 1 {
		t.Fatalf("detect failures = %d, want 1", n)
	}
	if n := c.metrics.FramesProcessed.Load(); n != 3 {
		t.Fatalf("frames processed = %d, want 3", n)
	}
}

func TestMaxDetectionsTruncates(t *testing.T) {
	det := detectorFunc(func(img image.Image, threshold float64) ([]detect.RawDetection, error) {
		raw := make([]detect.RawDetection, 30)
		for i := range raw {
			raw[i] = detect.RawDetection{
				BBox: types.BBox{X1: i, Y1: i, X2: i + 1, Y2: i + 1}, ClassName: "motion", Confidence: 0.9,
			}
		}
		return raw, nil
	})
	c := newTestController(newFakeCapturer(1), det, types.PipelineConfig{})
	if got := c.SetMaxDetections(5); got != 5 {
		t.Fatalf("SetMaxDetections(5) = %d", got)
	}

	var result *types.DetectionResult
	c.RegisterCallback(func(r *types.DetectionResult) { result = r })
	c.processFrame(testFrame("screen_0", 1))

	if result == nil {
		t.Fatal("no result delivered")
	}
	if len(result.Detections) != 5 {
		t.Fatalf("detections = %d, want 5", len(result.Detections))
	}
	if n := c.metrics.DetectionsTotal.Load(); n != 5 {
		t.Fatalf("detections counter = %d, want 5", n)
	}
}

func TestResultCarriesThresholdAndCenters(t *testing.T) {
	var seenThreshold float64
	det := detectorFunc(func(img image.Image, threshold float64) ([]detect.RawDetection, error) {
		seenThreshold = threshold
		return []detect.RawDetection{{
			BBox: types.BBox{X1: 10, Y1: 20, X2: 30, Y2: 60}, ClassName: "motion", Confidence: 0.75,
		}}, nil
	})
	c := newTestController(newFakeCapturer(1), det, types.PipelineConfig{})
	c.SetConfidenceThreshold(0.7)

	var result *types.DetectionResult
	c.RegisterCallback(func(r *types.DetectionResult) { result = r })
	c.processFrame(testFrame("screen_0", 1))

	if seenThreshold != 0.7 {
		t.Fatalf("detector saw threshold %f, want 0.7", seenThreshold)
	}
	if result.ConfidenceThreshold != 0.7 {
		t.Fatalf("result threshold = %f, want 0.7", result.ConfidenceThreshold)
	}
	d := result.Detections[0]
	if d.Center != [2]float64{20, 40} {
		t.Fatalf("center = %v, want [20 40]", d.Center)
	}
	if result.ProcessingTimeMs < 0 {
		t.Fatalf("negative processing time %f", result.ProcessingTimeMs)
	}
}

func TestCallbackPanicIsolated(t *testing.T) {
	c := newTestController(newFakeCapturer(1), nil, types.PipelineConfig{})

	c.RegisterCallback(func(r *types.DetectionResult) { panic("consumer bug") })
	delivered := 0
	c.RegisterCallback(func(r *types.DetectionResult) { delivered++ })

	c.processFrame(testFrame("screen_0", 1))
	c.processFrame(testFrame("screen_0", 2))

	if delivered != 2 {
		t.Fatalf("second callback delivered %d times, want 2", delivered)
	}
	if n := c.metrics.CallbackPanics.Load(); n != 2 {
		t.Fatalf("callback panics = %d, want 2", n)
	}
}

func TestUnregisterCallback(t *testing.T) {
	c := newTestController(newFakeCapturer(1), nil, types.PipelineConfig{})

	first, second := 0, 0
	id1 := c.RegisterCallback(func(r *types.DetectionResult) { first++ })
	c.RegisterCallback(func(r *types.DetectionResult) { second++ })

	if !c.UnregisterCallback(id1) {
		t.Fatal("unregister of known token returned false")
	}
	if c.UnregisterCallback(id1) {
		t.Fatal("second unregister of same token returned true")
	}
	if c.UnregisterCallback("no-such-token") {
		t.Fatal("unregister of unknown token returned true")
	}

	c.processFrame(testFrame("screen_0", 1))
	if first != 0 {
		t.Fatalf("unregistered callback invoked %d times", first)
	}
	if second != 1 {
		t.Fatalf("remaining callback invoked %d times, want 1", second)
	}
}

func TestDrainLatestResults(t *testing.T) {
	c := newTestController(newFakeCapturer(1), nil, types.PipelineConfig{})

	for i := uint64(1); i <= 3; i++ {
		c.processFrame(testFrame("screen_0", i))
	}

	if got := c.DrainLatestResults(2); len(got) != 2 {
		t.Fatalf("drain(2) = %d results, want 2", len(got))
	}
	if got := c.DrainLatestResults(10); len(got) != 1 {
		t.Fatalf("drain(10) = %d results, want 1", len(got))
	}
	if got := c.DrainLatestResults(10); len(got) != 0 {
		t.Fatalf("drain on empty queue = %d results, want 0", len(got))
	}
	if got := c.DrainLatestResults(0); got != nil {
		t.Fatalf("drain(0) = %v, want nil", got)
	}
}

func TestResultQueueDropsWhenFull(t *testing.T) {
	c := newTestController(newFakeCapturer(1), nil, types.PipelineConfig{ResultQueueSize: 1})

	for i := uint64(1); i <= 3; i++ {
		c.processFrame(testFrame("screen_0", i))
	}

	if n := c.metrics.ResultsDropped.Load(); n != 2 {
		t.Fatalf("results dropped = %d, want 2", n)
	}
	if got := c.DrainLatestResults(10); len(got) != 1 {
		t.Fatalf("queued results = %d, want 1", len(got))
	}
}

func TestDrainCountsAndNeverBlocks(t *testing.T) {
	ch := make(chan int, 4)
	ch <- 1
	ch <- 2
	ch <- 3

	if n := drain(ch); n != 3 {
		t.Fatalf("drain = %d, want 3", n)
	}

	// Draining an already-empty channel must return immediately rather
	// than wait for a send that will never come.
	finished := make(chan struct{})
	go func() {
		drain(ch)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("drain blocked on an empty channel")
	}
}

func TestProcessingAverageIsIncremental(t *testing.T) {
	var s aggregateStats
	s.recordProcessing(2)
	s.recordProcessing(4)
	s.recordProcessing(6)

	avg, _ := s.snapshot()
	if avg < 3.999 || avg > 4.001 {
		t.Fatalf("running average = %f, want 4", avg)
	}
}

func TestStatsSnapshot(t *testing.T) {
	det := detectorFunc(func(img image.Image, threshold float64) ([]detect.RawDetection, error) {
		return []detect.RawDetection{{
			BBox: types.BBox{X1: 0, Y1: 0, X2: 2, Y2: 2}, ClassName: "motion", Confidence: 0.6,
		}}, nil
	})
	c := newTestController(newFakeCapturer(1), det, types.PipelineConfig{})
	id, err := c.AddScreenTarget(0, 30)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	c.stats.markStart()
	c.processFrame(testFrame(id, 1))
	c.processFrame(testFrame(id, 2))

	stats := c.Stats()
	if stats.FramesProcessed != 2 {
		t.Fatalf("frames processed = %d, want 2", stats.FramesProcessed)
	}
	if stats.TotalDetections != 2 {
		t.Fatalf("total detections = %d, want 2", stats.TotalDetections)
	}
	if stats.Uptime <= 0 {
		t.Fatalf("uptime = %v, want > 0", stats.Uptime)
	}
	if _, ok := stats.TargetFPS[id]; !ok {
		t.Fatalf("stats missing per-target rate for %s", id)
	}
}

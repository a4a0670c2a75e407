package types

import (
	"image"
	"time"
)

// TargetKind identifies the class of capture source.
type TargetKind string

const (
	KindScreen TargetKind = "screen"
	KindWindow TargetKind = "window"
)

// TargetDescriptor identifies the physical source of a capture target.
// For screens only Screen is meaningful; for windows the title substring is
// the durable identifier and the handle is session-local.
type TargetDescriptor struct {
	Screen       int     `json:"screen,omitempty"`
	WindowTitle  string  `json:"window_title,omitempty"`
	WindowHandle uintptr `json:"-"`
}

// CapturedFrame is a single captured image in flight between a capture
// scheduler and the detection worker. Ownership of Image transfers to the
// consumer on enqueue; the producer must not touch it afterwards.
type CapturedFrame struct {
	TargetID  string
	Image     image.Image
	Timestamp time.Time
	Sequence  uint64 // Per-target capture sequence number
}

// BBox is a detection bounding box in pixel coordinates, [X1,Y1] top-left
// and [X2,Y2] bottom-right inclusive.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns the box width in pixels.
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height returns the box height in pixels.
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Center returns the box midpoint.
func (b BBox) Center() (float64, float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

// Detection is a single detected object within a frame.
type Detection struct {
	BBox       BBox       `json:"bbox"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	Center     [2]float64 `json:"center"`
}

// DetectionResult is the detection worker's output for one frame.
// Immutable once constructed.
type DetectionResult struct {
	TargetID            string      `json:"target_id"`
	Timestamp           time.Time   `json:"timestamp"`
	Detections          []Detection `json:"detections"`
	Image               image.Image `json:"-"`
	ProcessingTimeMs    float64     `json:"processing_time_ms"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
}

// PipelineStats is a point-in-time snapshot of aggregate pipeline counters.
type PipelineStats struct {
	FramesCaptured  uint64             `json:"frames_captured"`
	FramesDropped   uint64             `json:"frames_dropped"`
	FramesProcessed uint64             `json:"frames_processed"`
	ResultsDropped  uint64             `json:"results_dropped"`
	TotalDetections uint64             `json:"total_detections"`
	DetectFailures  uint64             `json:"detect_failures"`
	AvgProcessingMs float64            `json:"avg_processing_ms"`
	TargetFPS       map[string]float64 `json:"target_fps"`
	Uptime          time.Duration      `json:"uptime"`
}

// TargetSnapshot is the durable form of one capture target.
type TargetSnapshot struct {
	Kind       TargetKind       `json:"kind"`
	Descriptor TargetDescriptor `json:"descriptor"`
	TargetFPS  int              `json:"target_fps"`
	Active     bool             `json:"active"`
}

// ConfigSnapshot is the serializable pipeline configuration. An external
// collaborator owns where and how it is persisted.
type ConfigSnapshot struct {
	Targets               []TargetSnapshot `json:"targets"`
	ConfidenceThreshold   float64          `json:"confidence_threshold"`
	MaxDetectionsPerFrame int              `json:"max_detections_per_frame"`
}

// PipelineConfig holds runtime tuning for the stream controller.
type PipelineConfig struct {
	CaptureQueueSize int           // Capture queue capacity (frames)
	ResultQueueSize  int           // Result queue capacity
	JoinTimeout      time.Duration // Bound on joining a goroutine at stop/remove
	MetricsAddr      string        // Prometheus metrics address (e.g. ":9090")
	ProfileAddr      string        // pprof profiling address (e.g. ":6060")
}

// DefaultPipelineConfig returns the tuning used in production.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		CaptureQueueSize: 100,
		ResultQueueSize:  50,
		JoinTimeout:      2 * time.Second,
		MetricsAddr:      ":9090",
		ProfileAddr:      ":6060",
	}
}

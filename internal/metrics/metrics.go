package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics. Counters are plain atomics so hot
// paths never touch a lock; Prometheus reads them through GaugeFunc
// collectors on scrape.
type Metrics struct {
	// Capture counters
	FramesCaptured atomic.Uint64
	FramesDropped  atomic.Uint64
	CaptureErrors  atomic.Uint64

	// Detection counters
	FramesProcessed atomic.Uint64
	DetectionsTotal atomic.Uint64
	DetectFailures  atomic.Uint64
	ResultsDropped  atomic.Uint64
	CallbackPanics  atomic.Uint64

	// Latency tracking
	DetectLatencyMs atomic.Uint64 // Last observed inference latency in ms

	// Queue usage
	CaptureQueueUsage atomic.Uint64 // Percentage (0-100)
	ResultQueueUsage  atomic.Uint64 // Percentage (0-100)

	// Target tracking
	ActiveTargets atomic.Uint64
	TotalTargets  atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"pipeline_frames_captured_total", "Total frames captured across all targets", m.FramesCaptured.Load},
		{"pipeline_frames_dropped_total", "Total frames dropped on a full capture queue", m.FramesDropped.Load},
		{"pipeline_capture_errors_total", "Total capture failures across all targets", m.CaptureErrors.Load},
		{"pipeline_frames_processed_total", "Total frames run through the detector", m.FramesProcessed.Load},
		{"pipeline_detections_total", "Total detections produced", m.DetectionsTotal.Load},
		{"pipeline_detect_failures_total", "Total per-frame detector failures", m.DetectFailures.Load},
		{"pipeline_results_dropped_total", "Total results dropped on a full result queue", m.ResultsDropped.Load},
		{"pipeline_callback_panics_total", "Total recovered callback panics", m.CallbackPanics.Load},
		{"pipeline_detect_latency_ms", "Last inference latency in milliseconds", m.DetectLatencyMs.Load},
		{"pipeline_capture_queue_usage_percent", "Capture queue usage percentage", m.CaptureQueueUsage.Load},
		{"pipeline_result_queue_usage_percent", "Result queue usage percentage", m.ResultQueueUsage.Load},
		{"pipeline_active_targets", "Number of active capture targets", m.ActiveTargets.Load},
		{"pipeline_total_targets", "Total capture targets ever registered", m.TotalTargets.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateDetectLatency records the latency of one inference pass.
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateQueueUsage updates queue usage percentages.
func (m *Metrics) UpdateQueueUsage(captureUsed, captureCap, resultUsed, resultCap int) {
	if captureCap > 0 {
		m.CaptureQueueUsage.Store(uint64(captureUsed * 100 / captureCap))
	}
	if resultCap > 0 {
		m.ResultQueueUsage.Store(uint64(resultUsed * 100 / resultCap))
	}
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

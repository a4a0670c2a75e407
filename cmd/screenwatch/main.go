package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/yamori-dev/screenwatch/internal/capture"
	"github.com/yamori-dev/screenwatch/internal/detect"
	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/internal/metrics"
	"github.com/yamori-dev/screenwatch/internal/pipeline"
	"github.com/yamori-dev/screenwatch/internal/snapshot"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

var (
	// Command-line flags
	screens        = flag.String("screens", "0", "Display indexes to watch (comma-separated)")
	windows        = flag.String("windows", "", "Window title substrings to watch (comma-separated)")
	targetFPS      = flag.Int("fps", 10, "Capture rate per target (1-60)")
	confidence     = flag.Float64("confidence", 0.5, "Detection confidence threshold (0.1-0.9)")
	maxDetections  = flag.Int("max-detections", 20, "Maximum detections per frame")
	maxWidth       = flag.Int("max-width", 1280, "Downscale captured frames wider than this (0 disables)")
	metricsAddr    = flag.String("metrics", ":9090", "Metrics server address")
	pprofAddr      = flag.String("pprof", ":6060", "pprof server address")
	snapshotDir    = flag.String("snapshot-dir", "./snapshots", "Annotated snapshot output path (empty disables)")
	snapshotEvery  = flag.Duration("snapshot-interval", 5*time.Second, "Minimum interval between snapshots")
	configPath     = flag.String("config", "", "Config snapshot to import at startup")
	saveConfigPath = flag.String("save-config", "", "Write the config snapshot here on exit")
	statsEvery     = flag.Duration("stats-interval", 30*time.Second, "Pipeline stats log interval")
	logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor       = flag.Bool("log-color", true, "Enable colored log output")
)

// App wires the capture pipeline to its consumers
type App struct {
	metrics    *metrics.Metrics
	controller *pipeline.Controller
	writer     *snapshot.Writer

	statsDone chan struct{}
	wg        sync.WaitGroup
}

func main() {
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)

	logger.Info("Main", "Screen watcher starting...")
	logger.Info("Main", "Log level: %s", level)

	app := NewApp()

	if err := app.RegisterTargets(); err != nil {
		log.Fatalf("Failed to register targets: %v", err)
	}

	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := app.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Watcher stopped")
}

// NewApp assembles the pipeline with its capture backend and detector
func NewApp() *App {
	m := metrics.New()

	grabber := capture.NewScreenGrabber(*maxWidth)
	detector := detect.NewMotionDetector()

	cfg := types.DefaultPipelineConfig()
	cfg.MetricsAddr = *metricsAddr
	cfg.ProfileAddr = *pprofAddr

	controller := pipeline.New(grabber, detector, m, cfg)
	controller.SetConfidenceThreshold(*confidence)
	controller.SetMaxDetections(*maxDetections)

	app := &App{
		metrics:    m,
		controller: controller,
		statsDone:  make(chan struct{}),
	}

	if *snapshotDir != "" {
		app.writer = snapshot.NewWriter(*snapshotDir, *snapshotEvery)
	}

	return app
}

// RegisterTargets fills the registry from the config snapshot when one is
// given, otherwise from the -screens and -windows flags.
func (a *App) RegisterTargets() error {
	if *configPath != "" {
		snap, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		return a.controller.ImportConfig(snap)
	}

	for _, field := range splitList(*screens) {
		index, err := strconv.Atoi(field)
		if err != nil {
			return fmt.Errorf("invalid screen index %q: %w", field, err)
		}
		id, err := a.controller.AddScreenTarget(index, *targetFPS)
		if err != nil {
			return err
		}
		logger.Info("Main", "Watching %s", id)
	}

	for _, title := range splitList(*windows) {
		id, err := a.controller.AddWindowTarget(title, *targetFPS)
		if err != nil {
			logger.Warn("Main", "Skipping window %q: %v", title, err)
			continue
		}
		logger.Info("Main", "Watching %s (%q)", id, title)
	}

	return nil
}

// Start launches the pipeline, the snapshot writer and the serving goroutines
func (a *App) Start() error {
	logger.Info("Main", "Starting screen watcher...")
	logger.Info("Main", "  Targets: %s", strings.Join(a.controller.TargetIDs(), ", "))
	logger.Info("Main", "  Metrics server: %s", *metricsAddr)
	logger.Info("Main", "  pprof server: %s", *pprofAddr)
	if a.writer != nil {
		logger.Info("Main", "  Snapshot path: %s", *snapshotDir)
	}

	// Start pprof server
	go func() {
		logger.Info("Main", "Starting pprof server on %s", *pprofAddr)
		if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
			logger.Error("Main", "pprof server error: %v", err)
		}
	}()

	// Start metrics server
	go func() {
		logger.Info("Main", "Starting metrics server on %s", *metricsAddr)
		if err := a.metrics.StartServer(*metricsAddr); err != nil {
			logger.Error("Main", "Metrics server error: %v", err)
		}
	}()

	if a.writer != nil {
		if err := a.writer.Start(); err != nil {
			return fmt.Errorf("failed to start snapshot writer: %w", err)
		}
		a.controller.RegisterCallback(func(r *types.DetectionResult) {
			a.writer.Send(r)
		})
	}

	if err := a.controller.Start(); err != nil {
		return err
	}

	a.wg.Add(1)
	go a.logStats()

	logger.Info("Main", "Watcher started successfully")
	return nil
}

// logStats periodically logs a pipeline summary and keeps the result queue
// from sitting on stale frames.
func (a *App) logStats() {
	defer a.wg.Done()

	ticker := time.NewTicker(*statsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-a.statsDone:
			return
		case <-ticker.C:
			a.controller.DrainLatestResults(64)

			stats := a.controller.Stats()
			logger.Info("Main", "captured=%d dropped=%d processed=%d detections=%d avg=%.1fms uptime=%s",
				stats.FramesCaptured, stats.FramesDropped, stats.FramesProcessed,
				stats.TotalDetections, stats.AvgProcessingMs, stats.Uptime.Round(time.Second))
			for id, rate := range stats.TargetFPS {
				logger.Debug("Main", "  %s: %.1f fps achieved", id, rate)
			}
		}
	}
}

// Shutdown stops the pipeline and flushes pending snapshots
func (a *App) Shutdown() error {
	close(a.statsDone)
	a.wg.Wait()

	err := a.controller.Stop()

	if a.writer != nil {
		a.writer.Stop()
		status := a.writer.GetStatus()
		logger.Info("Main", "snapshots: %d written (%d bytes), %d dropped",
			status.Written, status.BytesWritten, status.Dropped)
	}

	if *saveConfigPath != "" {
		if werr := saveConfig(*saveConfigPath, a.controller.ExportConfig()); werr != nil {
			logger.Error("Main", "config export failed: %v", werr)
			if err == nil {
				err = werr
			}
		} else {
			logger.Info("Main", "config written to %s", *saveConfigPath)
		}
	}

	return err
}

func loadConfig(path string) (types.ConfigSnapshot, error) {
	var snap types.ConfigSnapshot

	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to parse config: %w", err)
	}
	return snap, nil
}

func saveConfig(path string, snap types.ConfigSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

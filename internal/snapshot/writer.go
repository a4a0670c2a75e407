// Package snapshot persists annotated detection stills to disk. It follows
// the same backpressure policy as the pipeline queues: a slow disk drops
// snapshots rather than stalling the caller.
package snapshot

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/internal/overlay"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

const jpegQuality = 85

// Writer writes annotated JPEG snapshots of detection results. Send is
// non-blocking; a background goroutine owns all file IO.
type Writer struct {
	basePath    string
	minInterval time.Duration

	mu           sync.RWMutex
	active       bool
	written      uint64
	dropped      uint64
	bytesWritten uint64
	lastWrite    time.Time

	resultChan chan *types.DetectionResult
	wg         sync.WaitGroup
}

// Status is a point-in-time view of the writer's counters.
type Status struct {
	Active       bool   `json:"active"`
	Written      uint64 `json:"written"`
	Dropped      uint64 `json:"dropped"`
	BytesWritten uint64 `json:"bytes_written"`
}

// NewWriter creates a Writer that stores snapshots under basePath, at most
// one per minInterval (0 disables throttling).
func NewWriter(basePath string, minInterval time.Duration) *Writer {
	return &Writer{
		basePath:    basePath,
		minInterval: minInterval,
		resultChan:  make(chan *types.DetectionResult, 8),
	}
}

// Start creates the output directory and launches the write goroutine.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active {
		return fmt.Errorf("already started")
	}
	if err := os.MkdirAll(w.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	w.active = true
	w.wg.Add(1)
	go w.writeLoop()
	return nil
}

// Stop drains pending snapshots and halts the write goroutine. Idempotent.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	w.active = false
	w.mu.Unlock()

	w.wg.Wait()
}

// Send offers a result for persistence. Results without detections and
// results arriving inside the throttle window are ignored; a full buffer
// drops the snapshot.
func (w *Writer) Send(result *types.DetectionResult) bool {
	if result == nil || len(result.Detections) == 0 || result.Image == nil {
		return false
	}

	w.mu.RLock()
	active := w.active
	throttled := w.minInterval > 0 && time.Since(w.lastWrite) < w.minInterval
	w.mu.RUnlock()

	if !active || throttled {
		return false
	}

	select {
	case w.resultChan <- result:
		return true
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		return false
	}
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()

	for {
		w.mu.RLock()
		active := w.active
		w.mu.RUnlock()

		if !active {
			// Drain remaining results
			for len(w.resultChan) > 0 {
				w.writeSnapshot(<-w.resultChan)
			}
			return
		}

		select {
		case result := <-w.resultChan:
			w.writeSnapshot(result)
		case <-time.After(100 * time.Millisecond):
			// Check active state periodically
		}
	}
}

func (w *Writer) writeSnapshot(result *types.DetectionResult) {
	annotated := overlay.Annotate(result)
	if annotated == nil {
		return
	}

	name := fmt.Sprintf("%s_%s.jpg", result.TargetID, result.Timestamp.Format("20060102_150405.000"))
	path := filepath.Join(w.basePath, name)

	f, err := os.Create(path)
	if err != nil {
		logger.Warn("Snapshot", "create %s failed: %v", path, err)
		return
	}
	defer f.Close()

	if err := jpeg.Encode(f, annotated, &jpeg.Options{Quality: jpegQuality}); err != nil {
		logger.Warn("Snapshot", "encode %s failed: %v", path, err)
		return
	}

	info, err := f.Stat()
	size := uint64(0)
	if err == nil {
		size = uint64(info.Size())
	}

	w.mu.Lock()
	w.written++
	w.bytesWritten += size
	w.lastWrite = time.Now()
	w.mu.Unlock()

	logger.Debug("Snapshot", "wrote %s (%d detections)", name, len(result.Detections))
}

// GetStatus returns the writer's counters.
func (w *Writer) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Status{
		Active:       w.active,
		Written:      w.written,
		Dropped:      w.dropped,
		BytesWritten: w.bytesWritten,
	}
}

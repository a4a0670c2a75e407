package snapshot

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yamori-dev/screenwatch/pkg/types"
)

func testResult(targetID string) *types.DetectionResult {
	box := types.BBox{X1: 10, Y1: 10, X2: 60, Y2: 60}
	cx, cy := box.Center()
	return &types.DetectionResult{
		TargetID:  targetID,
		Timestamp: time.Now(),
		Detections: []types.Detection{{
			BBox: box, ClassName: "motion", Confidence: 0.7, Center: [2]float64{cx, cy},
		}},
		Image: image.NewRGBA(image.Rect(0, 0, 100, 100)),
	}
}

func waitForWrites(t *testing.T, w *Writer, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.GetStatus().Written >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes (have %d)", n, w.GetStatus().Written)
}

func TestWriteAnnotatedSnapshot(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 0)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if !w.Send(testResult("screen_0")) {
		t.Fatal("expected Send to accept result")
	}
	waitForWrites(t, w, 1)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 snapshot file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".jpg" {
		t.Fatalf("expected jpg file, got %s", entries[0].Name())
	}
	info, err := entries[0].Info()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("snapshot file is empty")
	}
}

func TestSendIgnoresEmptyResults(t *testing.T) {
	w := NewWriter(t.TempDir(), 0)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if w.Send(nil) {
		t.Fatal("expected nil result to be rejected")
	}
	if w.Send(&types.DetectionResult{Image: image.NewRGBA(image.Rect(0, 0, 10, 10))}) {
		t.Fatal("expected detection-free result to be rejected")
	}
}

func TestSendRejectedWhenStopped(t *testing.T) {
	w := NewWriter(t.TempDir(), 0)
	if w.Send(testResult("screen_0")) {
		t.Fatal("expected Send to reject before Start")
	}
}

func TestThrottleWindow(t *testing.T) {
	w := NewWriter(t.TempDir(), time.Hour)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if !w.Send(testResult("screen_0")) {
		t.Fatal("expected first Send to be accepted")
	}
	waitForWrites(t, w, 1)

	if w.Send(testResult("screen_0")) {
		t.Fatal("expected second Send inside throttle window to be rejected")
	}
}

func TestStopIdempotent(t *testing.T) {
	w := NewWriter(t.TempDir(), 0)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	w.Stop()
	w.Stop()
}

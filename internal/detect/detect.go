// Package detect defines the inference capability consumed by the detection
// worker and ships a frame-differencing default.
package detect

import (
	"image"

	"github.com/yamori-dev/screenwatch/pkg/types"
)

// RawDetection is a detector's raw output for one object, before the
// pipeline derives centers and applies result limits.
type RawDetection struct {
	BBox       types.BBox
	ClassName  string
	Confidence float64
}

// Detector turns an image into a list of detections. Implementations must
// be safe to call repeatedly from a single dedicated goroutine; failures
// surface as errors, never panics.
type Detector interface {
	Detect(img image.Image, confidenceThreshold float64) ([]RawDetection, error)
}

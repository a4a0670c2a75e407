package detect

import (
	"image"

	"github.com/anthonynsimon/bild/blur"

	"github.com/yamori-dev/screenwatch/pkg/types"
)

const (
	// gridCells is the number of comparison cells along each axis.
	gridCells = 16

	// lumaDelta is the per-cell mean luma change (0-255) that marks a cell
	// as moved.
	lumaDelta = 12.0

	// blurRadius smooths sensor noise and subpixel jitter before
	// differencing.
	blurRadius = 1.5

	// confidenceScale maps the changed-cell fraction into a usable
	// confidence range: 25% of the frame changing saturates at 1.0.
	confidenceScale = 4.0
)

// MotionDetector reports regions that changed since the previous frame as a
// single "motion" detection. It keeps the previous frame's cell lumas as
// state, so it is only safe from a single goroutine, which matches the
// pipeline's one-worker contract.
type MotionDetector struct {
	prev       []float64
	prevBounds image.Rectangle
}

// NewMotionDetector creates a MotionDetector with no history. The first
// frame it sees produces no detections.
func NewMotionDetector() *MotionDetector {
	return &MotionDetector{}
}

// Detect compares the frame against the previous one and returns a single
// bounding box over the changed region when its confidence reaches the
// threshold.
func (d *MotionDetector) Detect(img image.Image, confidenceThreshold float64) ([]RawDetection, error) {
	if img == nil {
		return nil, nil
	}

	smoothed := blur.Gaussian(img, blurRadius)
	bounds := smoothed.Bounds()
	cells := cellLumas(smoothed)

	prev, prevBounds := d.prev, d.prevBounds
	d.prev, d.prevBounds = cells, bounds

	// No history, or the frame geometry changed (resolution switch): nothing
	// to compare against.
	if prev == nil || prevBounds != bounds {
		return nil, nil
	}

	cellW := bounds.Dx() / gridCells
	cellH := bounds.Dy() / gridCells
	if cellW == 0 || cellH == 0 {
		return nil, nil
	}

	changed := 0
	minCX, minCY := gridCells, gridCells
	maxCX, maxCY := -1, -1
	for cy := 0; cy < gridCells; cy++ {
		for cx := 0; cx < gridCells; cx++ {
			idx := cy*gridCells + cx
			delta := cells[idx] - prev[idx]
			if delta < 0 {
				delta = -delta
			}
			if delta < lumaDelta {
				continue
			}
			changed++
			if cx < minCX {
				minCX = cx
			}
			if cy < minCY {
				minCY = cy
			}
			if cx > maxCX {
				maxCX = cx
			}
			if cy > maxCY {
				maxCY = cy
			}
		}
	}

	if changed == 0 {
		return nil, nil
	}

	confidence := float64(changed) / (gridCells * gridCells) * confidenceScale
	if confidence > 1 {
		confidence = 1
	}
	if confidence < confidenceThreshold {
		return nil, nil
	}

	box := types.BBox{
		X1: bounds.Min.X + minCX*cellW,
		Y1: bounds.Min.Y + minCY*cellH,
		X2: bounds.Min.X + (maxCX+1)*cellW,
		Y2: bounds.Min.Y + (maxCY+1)*cellH,
	}

	return []RawDetection{{
		BBox:       box,
		ClassName:  "motion",
		Confidence: confidence,
	}}, nil
}

// cellLumas computes the mean luma of each grid cell, sampling every fourth
// pixel for speed.
func cellLumas(img *image.RGBA) []float64 {
	bounds := img.Bounds()
	cellW := bounds.Dx() / gridCells
	cellH := bounds.Dy() / gridCells
	lumas := make([]float64, gridCells*gridCells)
	if cellW == 0 || cellH == 0 {
		return lumas
	}

	const stride = 4

	for cy := 0; cy < gridCells; cy++ {
		for cx := 0; cx < gridCells; cx++ {
			x0 := bounds.Min.X + cx*cellW
			y0 := bounds.Min.Y + cy*cellH

			var sum float64
			var n int
			for y := y0; y < y0+cellH; y += stride {
				rowStart := img.PixOffset(x0, y)
				for x := 0; x < cellW; x += stride {
					off := rowStart + x*4
					r := float64(img.Pix[off])
					g := float64(img.Pix[off+1])
					b := float64(img.Pix[off+2])
					sum += 0.299*r + 0.587*g + 0.114*b
					n++
				}
			}
			if n > 0 {
				lumas[cy*gridCells+cx] = sum / float64(n)
			}
		}
	}
	return lumas
}

// Package overlay renders detection annotations onto result images.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/yamori-dev/screenwatch/pkg/types"
)

var (
	boxColor       = color.RGBA{R: 0, G: 220, B: 60, A: 255}  // Bright green
	labelTextColor = color.RGBA{R: 0, G: 220, B: 60, A: 255}
	labelBGColor   = color.RGBA{A: 255} // Black
)

const (
	borderThickness = 2
	labelPadding    = 2
	labelHeight     = 13 // basicfont.Face7x13 line height
)

// Annotate copies the result image and draws a border plus a "class conf"
// label for each detection. The source image is never modified. Returns nil
// when the result carries no image.
func Annotate(result *types.DetectionResult) *image.RGBA {
	if result == nil || result.Image == nil {
		return nil
	}

	bounds := result.Image.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, result.Image, bounds.Min, draw.Src)

	for _, det := range result.Detections {
		drawBox(out, det.BBox)
		drawLabel(out, det)
	}
	return out
}

// drawBox draws the bounding box border, clipped to the image.
func drawBox(img *image.RGBA, box types.BBox) {
	for t := 0; t < borderThickness; t++ {
		hline(img, box.X1, box.X2, box.Y1+t)
		hline(img, box.X1, box.X2, box.Y2-t)
		vline(img, box.X1+t, box.Y1, box.Y2)
		vline(img, box.X2-t, box.Y1, box.Y2)
	}
}

func hline(img *image.RGBA, x1, x2, y int) {
	for x := x1; x <= x2; x++ {
		if image.Pt(x, y).In(img.Bounds()) {
			img.SetRGBA(x, y, boxColor)
		}
	}
}

func vline(img *image.RGBA, x, y1, y2 int) {
	for y := y1; y <= y2; y++ {
		if image.Pt(x, y).In(img.Bounds()) {
			img.SetRGBA(x, y, boxColor)
		}
	}
}

// drawLabel renders "class 0.87" above the box, or below its top edge when
// the box touches the top of the frame.
func drawLabel(img *image.RGBA, det types.Detection) {
	label := fmt.Sprintf("%s %.2f", det.ClassName, det.Confidence)

	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()

	// Place the label fully above the box so it never covers the border;
	// fall back to inside the box at the top of the frame.
	x := det.BBox.X1
	y := det.BBox.Y1 - labelHeight - 2*labelPadding
	if y < img.Bounds().Min.Y {
		y = det.BBox.Y1 + borderThickness + labelPadding
	}

	bg := image.Rect(x, y, x+width+2*labelPadding, y+labelHeight+2*labelPadding)
	draw.Draw(img, bg.Intersect(img.Bounds()), &image.Uniform{C: labelBGColor}, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: labelTextColor},
		Face: face,
		Dot: fixed.P(
			x+labelPadding,
			y+labelPadding+face.Ascent,
		),
	}
	drawer.DrawString(label)
}

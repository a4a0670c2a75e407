package capture

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/kbinani/screenshot"

	"github.com/yamori-dev/screenwatch/internal/logger"
	"github.com/yamori-dev/screenwatch/pkg/types"
)

// ScreenGrabber captures whole displays. Window capture is not supported by
// this backend; integrators supply their own Capturer for window targets.
type ScreenGrabber struct {
	// MaxWidth, when > 0, downscales captured frames to at most this width
	// (aspect preserved) before they enter the pipeline. Keeps inference
	// cost bounded on large displays.
	MaxWidth int
}

// NewScreenGrabber creates a ScreenGrabber with the given downscale bound
// (0 disables downscaling).
func NewScreenGrabber(maxWidth int) *ScreenGrabber {
	return &ScreenGrabber{MaxWidth: maxWidth}
}

// ResolveScreen reports whether the display index is currently attached.
func (g *ScreenGrabber) ResolveScreen(index int) bool {
	return index >= 0 && index < screenshot.NumActiveDisplays()
}

// ResolveWindow always fails: this backend has no window enumeration.
func (g *ScreenGrabber) ResolveWindow(titleSubstring string) (types.TargetDescriptor, bool) {
	return types.TargetDescriptor{}, false
}

// CaptureScreen grabs one frame from a display. Returns nil on transient
// failure (display detached, compositor busy).
func (g *ScreenGrabber) CaptureScreen(desc types.TargetDescriptor) image.Image {
	if desc.Screen < 0 || desc.Screen >= screenshot.NumActiveDisplays() {
		return nil
	}

	img, err := screenshot.CaptureDisplay(desc.Screen)
	if err != nil {
		logger.Debug("ScreenGrabber", "capture display %d failed: %v", desc.Screen, err)
		return nil
	}

	return g.downscale(img)
}

// CaptureWindow always returns nil for this backend.
func (g *ScreenGrabber) CaptureWindow(desc types.TargetDescriptor) image.Image {
	return nil
}

func (g *ScreenGrabber) downscale(img image.Image) image.Image {
	if g.MaxWidth <= 0 || img.Bounds().Dx() <= g.MaxWidth {
		return img
	}
	return imaging.Resize(img, g.MaxWidth, 0, imaging.Lanczos)
}

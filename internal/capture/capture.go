// Package capture defines the image acquisition capability consumed by the
// pipeline and ships a screen-backed implementation.
package capture

import (
	"image"

	"github.com/yamori-dev/screenwatch/pkg/types"
)

// Capturer turns a target descriptor into an image. Capture calls must
// return nil (never panic) on transient failure so the scheduler's
// error-counting logic applies; resolution failures surface at add-target
// time through the Resolve methods.
type Capturer interface {
	// ResolveScreen reports whether the given display index exists.
	ResolveScreen(index int) bool

	// ResolveWindow locates a window whose title contains the given
	// substring and returns its descriptor.
	ResolveWindow(titleSubstring string) (types.TargetDescriptor, bool)

	// CaptureScreen grabs the current contents of a display, or nil on
	// transient failure.
	CaptureScreen(desc types.TargetDescriptor) image.Image

	// CaptureWindow grabs the current contents of a window, or nil on
	// transient failure.
	CaptureWindow(desc types.TargetDescriptor) image.Image
}

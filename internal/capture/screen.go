//go:build windows || linux || freebsd || openbsd || netbsd || (darwin && cgo)

package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Display captures the full bounds of one active display.
type Display struct {
	// Index selects the display; 0 is the primary display.
	Index int
}

// Default returns the platform capturer for the primary display.
func Default() Capturer {
	return Display{}
}

// Capture implements Capturer.
func (d Display) Capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, fmt.Errorf("%w: no active display", ErrUnavailable)
	}
	if d.Index < 0 || d.Index >= n {
		return nil, fmt.Errorf("%w: display %d not found (%d active)", ErrUnavailable, d.Index, n)
	}

	bounds := screenshot.GetDisplayBounds(d.Index)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		// Headless hosts fail here, e.g. no X server behind $DISPLAY.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return img, nil
}

// Package capture grabs the current display for screenshot analysis.
//
// Screen capture depends on the host platform. Builds for platforms with a
// capture backend get a display implementation; every other build gets one
// that always fails with ErrUnavailable.
package capture

import (
	"context"
	"errors"
	"image"
)

// ErrUnavailable indicates that no display or capture backend is present.
var ErrUnavailable = errors.New("screen capture unavailable")

// Capturer grabs a still image of the screen.
type Capturer interface {
	Capture(ctx context.Context) (image.Image, error)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(ctx context.Context) (image.Image, error)

// Capture calls f(ctx).
func (f CapturerFunc) Capture(ctx context.Context) (image.Image, error) {
	return f(ctx)
}

// Unavailable is a Capturer that always fails with ErrUnavailable.
type Unavailable struct {
	// Reason is appended to the error message when set.
	Reason string
}

// Capture implements Capturer.
func (u Unavailable) Capture(context.Context) (image.Image, error) {
	if u.Reason == "" {
		return nil, ErrUnavailable
	}
	return nil, &reasonError{reason: u.Reason}
}

type reasonError struct{ reason string }

func (e *reasonError) Error() string { return ErrUnavailable.Error() + ": " + e.reason }
func (e *reasonError) Unwrap() error { return ErrUnavailable }

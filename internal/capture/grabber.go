package capture

import "image"

// Grabber is a screen capture backend able to read pixels of the main
// display synchronously.
type Grabber interface {
	Name() string

	// Start acquires backend resources. A grabber that fails to start is
	// skipped by the Router.
	Start() error

	// Stop releases backend resources.
	Stop() error

	// MainDisplay returns the main display bounds in screen coordinates.
	MainDisplay() (image.Rectangle, error)

	// CaptureRegion reads r from the screen.
	CaptureRegion(r image.Rectangle) (*image.RGBA, error)
}

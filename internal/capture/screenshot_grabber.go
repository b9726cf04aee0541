package capture

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenshotGrabber captures through github.com/kbinani/screenshot. It is
// the fallback when the X11 grabber cannot be used.
type ScreenshotGrabber struct{}

func (ScreenshotGrabber) Name() string { return "screenshot" }

func (ScreenshotGrabber) Start() error {
	if screenshot.NumActiveDisplays() < 1 {
		return ErrNoDisplay
	}
	return nil
}

func (ScreenshotGrabber) Stop() error { return nil }

// MainDisplay returns the bounds of display 0.
func (ScreenshotGrabber) MainDisplay() (image.Rectangle, error) {
	if screenshot.NumActiveDisplays() < 1 {
		return image.Rectangle{}, ErrNoDisplay
	}
	bounds := screenshot.GetDisplayBounds(0)
	if bounds.Empty() {
		return image.Rectangle{}, ErrNoDisplay
	}
	return bounds, nil
}

func (ScreenshotGrabber) CaptureRegion(r image.Rectangle) (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	return img, nil
}

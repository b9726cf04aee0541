package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

// FullScreen grabs the main display synchronously.
type FullScreen struct {
	grabber Grabber
}

// NewFullScreen creates the full screen strategy.
func NewFullScreen(g Grabber) *FullScreen {
	return &FullScreen{grabber: g}
}

func (s *FullScreen) Capture(ctx context.Context, req Request) Outcome {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	if s.grabber == nil {
		return Failed(ErrNoDisplay)
	}

	bounds, err := s.grabber.MainDisplay()
	if err != nil {
		if !errors.Is(err, ErrNoDisplay) {
			err = fmt.Errorf("%w: %v", ErrNoDisplay, err)
		}
		return Failed(err)
	}

	img, err := s.grabber.CaptureRegion(bounds)
	if err != nil {
		if !errors.Is(err, ErrCaptureFailed) && !errors.Is(err, ErrNoDisplay) {
			err = fmt.Errorf("%w: %v", ErrCaptureFailed, err)
		}
		return Failed(err)
	}

	logger.WithComponent("capture").Debug().
		Str("request", req.ID).
		Stringer("bounds", bounds).
		Msg("Full screen captured")
	return Captured(img, bounds)
}

package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

// Router routes grab requests to the first backend that works. It
// implements Grabber itself so strategies do not care how many backends
// are installed.
type Router struct {
	candidates []Grabber
	active     []Grabber
	mu         sync.RWMutex
	started    bool
}

// NewRouter creates a router over candidates, in order of preference.
func NewRouter(candidates ...Grabber) *Router {
	return &Router{candidates: candidates}
}

// DefaultGrabbers returns the X11 grabber when an X server is reachable,
// followed by the kbinani/screenshot fallback.
func DefaultGrabbers() []Grabber {
	log := logger.WithComponent("capture-router")

	var grabbers []Grabber
	x11, err := NewX11Grabber()
	if err != nil {
		log.Warn().Err(err).Msg("X11 grabber not available")
	} else {
		grabbers = append(grabbers, x11)
	}
	return append(grabbers, ScreenshotGrabber{})
}

func (r *Router) Name() string {
	return "router"
}

// Start initializes the available grabbers.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	log := logger.WithComponent("capture-router")

	for _, g := range r.candidates {
		if err := g.Start(); err != nil {
			log.Warn().Err(err).Str("grabber", g.Name()).Msg("Failed to start grabber")
			continue
		}
		r.active = append(r.active, g)
		log.Info().Str("grabber", g.Name()).Msg("Grabber initialized")
	}

	if len(r.active) == 0 {
		return fmt.Errorf("%w: no capture backends available", ErrNoDisplay)
	}

	r.started = true
	return nil
}

// Stop stops all grabbers.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.active {
		if err := g.Stop(); err != nil {
			logger.WithComponent("capture-router").Warn().
				Err(err).
				Str("grabber", g.Name()).
				Msg("Failed to stop grabber")
		}
	}
	r.active = nil
	r.started = false
	return nil
}

func (r *Router) grabbers() []Grabber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Grabber(nil), r.active...)
}

// MainDisplay asks each grabber in turn.
func (r *Router) MainDisplay() (image.Rectangle, error) {
	var errs []error
	for _, g := range r.grabbers() {
		bounds, err := g.MainDisplay()
		if err == nil {
			return bounds, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))
	}
	if len(errs) == 0 {
		return image.Rectangle{}, ErrNoDisplay
	}
	return image.Rectangle{}, errors.Join(errs...)
}

// CaptureRegion captures with the first grabber that succeeds.
func (r *Router) CaptureRegion(rect image.Rectangle) (*image.RGBA, error) {
	log := logger.WithComponent("capture-router")

	var errs []error
	for _, g := range r.grabbers() {
		img, err := g.CaptureRegion(rect)
		if err == nil {
			log.Debug().
				Str("grabber", g.Name()).
				Stringer("region", rect).
				Msg("Captured region")
			return img, nil
		}
		log.Warn().Err(err).Str("grabber", g.Name()).Msg("Grabber failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", g.Name(), err))
	}
	if len(errs) == 0 {
		return nil, ErrNoDisplay
	}
	return nil, errors.Join(errs...)
}

// Active lists the names of the started grabbers.
func (r *Router) Active() []string {
	var names []string
	for _, g := range r.grabbers() {
		names = append(names, g.Name())
	}
	return names
}

package preview

import (
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/clock"
)

// Headless is a Surface without a window. Fades complete after their
// duration on the given clock. It is used when no display is available
// and by tests.
type Headless struct {
	ID         string
	Controller Controller

	clock clock.Clock

	mu        sync.Mutex
	frame     image.Rectangle
	shown     bool
	destroyed bool
}

// NewHeadless creates a headless surface.
func NewHeadless(id string, c Controller, clk clock.Clock) *Headless {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Headless{ID: id, Controller: c, clock: clk}
}

// HeadlessFactory creates headless surfaces. When created is not nil it
// receives every new surface.
func HeadlessFactory(clk clock.Clock, created func(*Headless)) SurfaceFactory {
	return func(id string, c Controller) (Surface, error) {
		h := NewHeadless(id, c, clk)
		if created != nil {
			created(h)
		}
		return h, nil
	}
}

func (h *Headless) Show(frame image.Rectangle, img image.Image) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame = frame
	h.shown = true
	return nil
}

func (h *Headless) FadeIn(d time.Duration, done func()) {
	h.clock.AfterFunc(d, done)
}

func (h *Headless) FadeOut(d time.Duration, done func()) {
	h.clock.AfterFunc(d, done)
}

func (h *Headless) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
}

// Frame returns the frame passed to Show.
func (h *Headless) Frame() image.Rectangle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// Destroyed reports whether Destroy was called.
func (h *Headless) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// StaticScreen is a Screen with a fixed pointer and frame.
type StaticScreen struct {
	PointerAt image.Point
	Bounds    image.Rectangle
}

func (s StaticScreen) Pointer() (image.Point, error) { return s.PointerAt, nil }

func (s StaticScreen) Frame() (image.Rectangle, error) { return s.Bounds, nil }

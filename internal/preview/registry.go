package preview

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/ScreenCap/internal/eventloop"
	"github.com/bryanchriswhite/ScreenCap/internal/imageio"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/google/uuid"
)

// Registry opens previews and tracks the live ones. Several previews may
// be open at once; each owns its timer and pixels.
type Registry struct {
	loop    *eventloop.Loop
	factory SurfaceFactory
	screen  Screen

	mu        sync.Mutex
	sessions  map[string]*Session
	order     []string
	nextSub   int
	listeners map[int]func(Info)
}

// NewRegistry creates a registry whose sessions run on loop.
func NewRegistry(loop *eventloop.Loop, factory SurfaceFactory, screen Screen) *Registry {
	return &Registry{
		loop:      loop,
		factory:   factory,
		screen:    screen,
		sessions:  make(map[string]*Session),
		listeners: make(map[int]func(Info)),
	}
}

// Open shows img in a new preview next to the pointer.
func (r *Registry) Open(img image.Image, opts Options) (*Session, error) {
	log := logger.WithComponent("preview")

	thumb := imageio.Fit(img, MaxSize)
	frame := r.place(thumb.Bounds().Size())

	id := uuid.NewString()
	s := newSession(id, r.loop, img, frame, opts, r.changed)

	surface, err := r.factory(id, s)
	if err != nil {
		return nil, fmt.Errorf("failed to create preview surface: %w", err)
	}
	s.attach(surface)

	r.mu.Lock()
	r.sessions[id] = s
	r.order = append(r.order, id)
	r.mu.Unlock()

	if err := surface.Show(frame, thumb); err != nil {
		r.remove(id)
		s.attach(nil)
		surface.Destroy()
		return nil, fmt.Errorf("failed to show preview: %w", err)
	}

	if !r.loop.Post(s.start) {
		r.remove(id)
		s.attach(nil)
		surface.Destroy()
		return nil, fmt.Errorf("event loop stopped")
	}

	log.Info().
		Str("preview", id).
		Stringer("frame", frame).
		Dur("auto_close", opts.AutoClose).
		Msg("Preview opened")
	return s, nil
}

func (r *Registry) place(size image.Point) image.Rectangle {
	log := logger.WithComponent("preview")

	fallback := image.Rectangle{Max: size}
	if r.screen == nil {
		return fallback
	}
	frame, err := r.screen.Frame()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to query display frame")
		return fallback
	}
	pointer, err := r.screen.Pointer()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to query pointer position")
		pointer = frame.Min
	}
	return Place(pointer, size, frame)
}

func (r *Registry) changed(info Info) {
	if info.State == StateClosed {
		r.remove(info.ID)
	}

	r.mu.Lock()
	fns := make([]func(Info), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(info)
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns the live sessions in the order they were opened.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		sessions = append(sessions, r.sessions[id])
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Close asks the session to close as if the user pressed its close button.
func (r *Registry) Close(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.Close()
	return nil
}

// CloseAll closes every live session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Interact counts as a pointer press on the session.
func (r *Registry) Interact(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.PointerDown()
	return nil
}

// Export starts a drag of the session's image.
func (r *Registry) Export(id string) (Export, error) {
	s, err := r.Get(id)
	if err != nil {
		return Export{}, err
	}
	return s.BeginDrag()
}

// Drop ends a drag started with Export.
func (r *Registry) Drop(id string, op DropOp) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.EndDrag(op)
	return nil
}

// Subscribe registers fn for every state change of every session. fn
// runs on the event loop and must not block.
func (r *Registry) Subscribe(fn func(Info)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

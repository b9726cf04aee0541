package preview

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/clock"
	"github.com/bryanchriswhite/ScreenCap/internal/eventloop"
	"github.com/bryanchriswhite/ScreenCap/internal/imageio"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

// Options configures one session.
type Options struct {
	// AutoClose closes the preview after this long without interaction.
	// Zero keeps it open until the user closes it.
	AutoClose time.Duration
	// TempDir receives drag export files. Defaults to os.TempDir().
	TempDir string
	// Path is the saved capture the preview shows.
	Path string
}

// Session is one preview. Fields below the loop marker are owned by the
// event loop and must only be touched from loop tasks.
type Session struct {
	id       string
	loop     *eventloop.Loop
	opts     Options
	onChange func(Info)
	done     chan struct{}

	mu      sync.Mutex
	info    Info
	source  image.Image
	export  *Export
	surface Surface

	// loop
	state        State
	trigger      Trigger
	timer        clock.Timer
	timerGen     int
	timerExpired bool
	grace        clock.Timer
	graceGen     int
}

func newSession(id string, loop *eventloop.Loop, img image.Image, frame image.Rectangle, opts Options, onChange func(Info)) *Session {
	return &Session{
		id:       id,
		loop:     loop,
		opts:     opts,
		onChange: onChange,
		done:     make(chan struct{}),
		source:   img,
		state:    StateAppearing,
		info: Info{
			ID:    id,
			State: StateAppearing,
			Frame: frame,
			Path:  opts.Path,
		},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Info returns the current state snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// PointerDown implements Controller.
func (s *Session) PointerDown() {
	s.loop.Post(s.pointerDown)
}

// Close implements Controller.
func (s *Session) Close() {
	s.loop.Post(s.requestClose)
}

// BeginDrag implements Controller. The export is built once per session
// and reused by later drags.
func (s *Session) BeginDrag() (Export, error) {
	export, err := s.buildExport()
	if err != nil {
		return Export{}, err
	}
	s.loop.Post(s.dragStarted)
	return export, nil
}

// EndDrag implements Controller.
func (s *Session) EndDrag(op DropOp) {
	s.loop.Post(func() { s.dragEnded(op) })
}

func (s *Session) buildExport() (Export, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info.State == StateClosing || s.info.State == StateClosed || s.source == nil {
		return Export{}, ErrClosed
	}
	if s.export != nil {
		return *s.export, nil
	}

	data, err := imageio.EncodePNG(s.source)
	if err != nil {
		return Export{}, err
	}

	dir := s.opts.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("screencap-drag-%d.png", s.loop.Clock().Now().UnixNano()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Export{}, fmt.Errorf("failed to write drag export: %w", err)
	}

	s.export = &Export{
		PNG:  data,
		Path: path,
		Icon: imageio.DragIcon(s.source, DragIconSide),
	}
	logger.WithComponent("preview").Debug().
		Str("preview", s.id).
		Str("path", path).
		Int("bytes", len(data)).
		Msg("Drag export materialized")
	return *s.export, nil
}

// attach binds the surface before it is shown, so input that arrives
// while Show is still running finds it.
func (s *Session) attach(surface Surface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surface = surface
}

func (s *Session) currentSurface() Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surface
}

// start runs on the loop once the surface is shown. A session closed
// during Show is already fading out and is left alone.
func (s *Session) start() {
	if s.state != StateAppearing {
		return
	}
	surface := s.currentSurface()
	if surface == nil {
		return
	}
	s.publish()
	surface.FadeIn(OpenDuration, func() {
		s.loop.Post(s.opened)
	})
}

func (s *Session) opened() {
	if s.state != StateAppearing {
		return
	}
	s.setState(StateVisible)
	s.armTimer()
}

func (s *Session) armTimer() {
	s.stopTimer()
	if s.opts.AutoClose <= 0 {
		return
	}
	gen := s.timerGen
	s.timer = s.loop.AfterFunc(s.opts.AutoClose, func() { s.timerFired(gen) })
}

func (s *Session) stopTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) timerFired(gen int) {
	if gen != s.timerGen {
		return
	}
	s.timer = nil
	switch s.state {
	case StateVisible:
		s.beginClose(TriggerTimer)
	case StateDragging:
		// the drop decides: a failed drop closes right away
		s.timerExpired = true
	}
}

func (s *Session) pointerDown() {
	if s.state != StateVisible && s.state != StateDragging {
		return
	}
	s.armTimer()
}

func (s *Session) requestClose() {
	switch s.state {
	case StateAppearing, StateVisible, StateDragging:
		s.beginClose(TriggerUser)
	}
}

func (s *Session) dragStarted() {
	if s.state != StateVisible {
		return
	}
	s.timerExpired = false
	s.setState(StateDragging)
	s.armTimer()
}

func (s *Session) dragEnded(op DropOp) {
	if s.state != StateDragging || s.grace != nil {
		return
	}

	if op == DropCopy {
		gen := s.graceGen
		s.grace = s.loop.AfterFunc(DropGrace, func() {
			if gen != s.graceGen || s.state != StateDragging {
				return
			}
			s.beginClose(TriggerDragExport)
		})
		return
	}

	s.setState(StateVisible)
	if s.timerExpired {
		s.timerExpired = false
		s.beginClose(TriggerTimer)
	}
}

func (s *Session) beginClose(trigger Trigger) {
	s.stopTimer()
	s.graceGen++
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}

	s.trigger = trigger
	s.setState(StateClosing)

	surface := s.currentSurface()
	if surface == nil {
		s.loop.Post(s.finish)
		return
	}
	surface.FadeOut(CloseDuration, func() {
		s.loop.Post(s.finish)
	})
}

func (s *Session) finish() {
	if s.state != StateClosing {
		return
	}
	s.mu.Lock()
	surface := s.surface
	s.surface = nil
	s.source = nil
	s.export = nil
	s.mu.Unlock()

	if surface != nil {
		surface.Destroy()
	}

	s.setState(StateClosed)
	close(s.done)
}

func (s *Session) setState(state State) {
	s.state = state

	logger.WithComponent("preview").Debug().
		Str("preview", s.id).
		Stringer("state", state).
		Stringer("trigger", s.trigger).
		Msg("Preview state changed")

	s.publish()
}

func (s *Session) publish() {
	s.mu.Lock()
	s.info.State = s.state
	s.info.Trigger = s.trigger
	info := s.info
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(info)
	}
}

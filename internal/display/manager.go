// Package display shows preview windows on the X server.
package display

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenCap/internal/hotkey"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/preview"
)

// FrameFunc returns the main display bounds.
type FrameFunc func() (image.Rectangle, error)

// Manager owns the X connection shared by all preview windows and
// routes X events to them.
type Manager struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	keymap *hotkey.Keymap
	frame  FrameFunc

	mu       sync.RWMutex
	windows  map[xproto.Window]*Window
	atoms    map[string]xproto.Atom
	stopChan chan struct{}
	running  bool
}

// NewManager connects to the X server. frame may be nil, in which case
// the root window bounds are used.
func NewManager(frame FrameFunc) (*Manager, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	keymap, err := hotkey.LoadKeymap(conn)
	if err != nil {
		logger.WithComponent("display").Warn().
			Err(err).
			Msg("Failed to load keymap, Escape will not close previews")
	}

	return &Manager{
		conn:     conn,
		screen:   screen,
		keymap:   keymap,
		frame:    frame,
		windows:  make(map[xproto.Window]*Window),
		atoms:    make(map[string]xproto.Atom),
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins routing X events to preview windows.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	go m.watchEvents()
}

// Stop destroys remaining windows and closes the connection.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.conn.Close()
		return
	}
	m.running = false
	close(m.stopChan)
	windows := make([]*Window, 0, len(m.windows))
	for _, w := range m.windows {
		windows = append(windows, w)
	}
	m.mu.Unlock()

	for _, w := range windows {
		w.Destroy()
	}
	m.conn.Close()
	logger.WithComponent("display").Info().Msg("Display closed")
}

// Pointer returns the pointer position in root coordinates.
func (m *Manager) Pointer() (image.Point, error) {
	reply, err := xproto.QueryPointer(m.conn, m.screen.Root).Reply()
	if err != nil {
		return image.Point{}, fmt.Errorf("failed to query pointer: %w", err)
	}
	return image.Pt(int(reply.RootX), int(reply.RootY)), nil
}

// Frame returns the main display bounds.
func (m *Manager) Frame() (image.Rectangle, error) {
	if m.frame != nil {
		if r, err := m.frame(); err == nil && !r.Empty() {
			return r, nil
		}
	}
	return image.Rect(0, 0, int(m.screen.WidthInPixels), int(m.screen.HeightInPixels)), nil
}

// NewSurface implements preview.SurfaceFactory.
func (m *Manager) NewSurface(id string, c preview.Controller) (preview.Surface, error) {
	return newWindow(m, id, c), nil
}

func (m *Manager) register(w *Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.id] = w
}

func (m *Manager) unregister(w *Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, w.id)
}

func (m *Manager) window(id xproto.Window) *Window {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.windows[id]
}

func (m *Manager) isEscape(code xproto.Keycode) bool {
	if m.keymap == nil {
		return false
	}
	for _, c := range m.keymap.Keycodes(hotkey.KeysymEscape) {
		if c == code {
			return true
		}
	}
	return false
}

// watchEvents polls the connection like the hotkey manager does so Stop
// can end it without waiting for an event.
func (m *Manager) watchEvents() {
	log := logger.WithComponent("display")

	for {
		select {
		case <-m.stopChan:
			return
		default:
		}

		ev, err := m.conn.PollForEvent()
		if err != nil {
			log.Debug().Err(err).Msg("X11 event error")
			continue
		}
		if ev == nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		switch e := ev.(type) {
		case xproto.ExposeEvent:
			if w := m.window(e.Window); w != nil && e.Count == 0 {
				w.redraw()
			}
		case xproto.ButtonPressEvent:
			if w := m.window(e.Event); w != nil {
				w.buttonPress(e)
			}
		case xproto.MotionNotifyEvent:
			if w := m.window(e.Event); w != nil {
				w.motion(e)
			}
		case xproto.ButtonReleaseEvent:
			if w := m.window(e.Event); w != nil {
				w.buttonRelease(e)
			}
		case xproto.KeyPressEvent:
			if w := m.window(e.Event); w != nil && m.isEscape(e.Detail) {
				w.controller.Close()
			}
		case xproto.ClientMessageEvent:
			if w := m.window(e.Window); w != nil {
				atoms, err := m.xdndAtoms()
				if err != nil {
					log.Debug().Err(err).Msg("Ignoring client message")
					continue
				}
				w.clientMessage(e, atoms)
			}
		case xproto.SelectionRequestEvent:
			if w := m.window(e.Owner); w != nil {
				w.selectionRequest(e)
			}
		}
	}
}

func (m *Manager) atom(name string) (xproto.Atom, error) {
	m.mu.RLock()
	a, ok := m.atoms[name]
	m.mu.RUnlock()
	if ok {
		return a, nil
	}

	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.atoms[name] = reply.Atom
	m.mu.Unlock()
	return reply.Atom, nil
}

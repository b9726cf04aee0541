package hotkey

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

// Lock and NumLock are grabbed in every combination so hotkeys keep
// working regardless of their state.
var ignoredMods = []uint16{
	0,
	xproto.ModMaskLock,
	xproto.ModMask2,
	xproto.ModMaskLock | xproto.ModMask2,
}

const relevantMods = xproto.ModMaskShift | xproto.ModMaskControl | xproto.ModMask1 | xproto.ModMask4

type grabKey struct {
	code xproto.Keycode
	mods uint16
}

type binding struct {
	combo  Combo
	action func()
}

// Manager grabs key combinations on the root window and runs their
// actions when pressed.
type Manager struct {
	conn   *xgb.Conn
	root   xproto.Window
	keymap *Keymap

	mu       sync.Mutex
	bindings map[grabKey]binding
	stopChan chan struct{}
	running  bool
}

// NewManager connects to the X server.
func NewManager() (*Manager, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	keymap, err := LoadKeymap(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Manager{
		conn:     conn,
		root:     xproto.Setup(conn).DefaultScreen(conn).Root,
		keymap:   keymap,
		bindings: make(map[grabKey]binding),
	}, nil
}

// Apply replaces all bindings. Empty combos are skipped. Every combo is
// attempted; the returned error lists the ones that failed.
func (m *Manager) Apply(bindings map[string]func()) error {
	m.UnbindAll()

	var errs []error
	for combo, action := range bindings {
		if combo == "" {
			continue
		}
		if err := m.Bind(combo, action); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bind grabs combo and runs action on each press.
func (m *Manager) Bind(combo string, action func()) error {
	c, err := ParseCombo(combo)
	if err != nil {
		return err
	}

	codes := m.keymap.Keycodes(c.Keysym)
	if len(codes) == 0 {
		return fmt.Errorf("hotkey %s: key not on this keyboard", c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, code := range codes {
		key := grabKey{code: code, mods: c.Mods}
		if existing, ok := m.bindings[key]; ok {
			return fmt.Errorf("hotkey %s conflicts with %s", c, existing.combo)
		}
		for _, extra := range ignoredMods {
			err := xproto.GrabKeyChecked(
				m.conn,
				true,
				m.root,
				c.Mods|extra,
				code,
				xproto.GrabModeAsync,
				xproto.GrabModeAsync,
			).Check()
			if err != nil {
				return fmt.Errorf("hotkey %s is already grabbed by another application: %w", c, err)
			}
		}
		m.bindings[key] = binding{combo: c, action: action}
	}

	logger.WithComponent("hotkey").Info().
		Str("combo", c.String()).
		Int("keycodes", len(codes)).
		Msg("Hotkey registered")
	return nil
}

// UnbindAll releases every grab.
func (m *Manager) UnbindAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.bindings {
		for _, extra := range ignoredMods {
			xproto.UngrabKey(m.conn, key.code, m.root, key.mods|extra)
		}
	}
	m.bindings = make(map[grabKey]binding)
	m.conn.Sync()
}

// Start begins dispatching key presses.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	go m.watchKeys(m.stopChan)
}

func (m *Manager) watchKeys(stop chan struct{}) {
	log := logger.WithComponent("hotkey")

	for {
		select {
		case <-stop:
			return
		default:
		}

		ev, err := m.conn.PollForEvent()
		if err != nil {
			log.Debug().Err(err).Msg("X11 event error")
			continue
		}
		if ev == nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		press, ok := ev.(xproto.KeyPressEvent)
		if !ok {
			continue
		}

		m.mu.Lock()
		b, found := m.bindings[grabKey{code: press.Detail, mods: press.State & relevantMods}]
		m.mu.Unlock()
		if !found {
			continue
		}

		log.Debug().Str("combo", b.combo.String()).Msg("Hotkey pressed")
		b.action()
	}
}

// Stop ends dispatching and releases the grabs and the connection.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.running {
		close(m.stopChan)
		m.running = false
	}
	m.mu.Unlock()

	m.UnbindAll()
	m.conn.Close()
}

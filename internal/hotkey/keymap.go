package hotkey

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// Keymap maps keysyms to the keycodes that produce them.
type Keymap struct {
	codes map[xproto.Keysym][]xproto.Keycode
}

// LoadKeymap reads the keyboard mapping of the X server.
func LoadKeymap(conn *xgb.Conn) (*Keymap, error) {
	setup := xproto.Setup(conn)
	first := setup.MinKeycode
	count := byte(setup.MaxKeycode-first) + 1

	reply, err := xproto.GetKeyboardMapping(conn, first, count).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get keyboard mapping: %w", err)
	}
	return newKeymap(first, int(reply.KeysymsPerKeycode), reply.Keysyms), nil
}

func newKeymap(first xproto.Keycode, perCode int, syms []xproto.Keysym) *Keymap {
	k := &Keymap{codes: make(map[xproto.Keysym][]xproto.Keycode)}
	if perCode <= 0 {
		return k
	}
	for i := 0; i+perCode <= len(syms); i += perCode {
		code := first + xproto.Keycode(i/perCode)
		// only the unshifted and shifted columns matter for hotkeys
		for col := 0; col < perCode && col < 2; col++ {
			sym := syms[i+col]
			if sym == 0 {
				continue
			}
			k.add(sym, code)
		}
	}
	return k
}

func (k *Keymap) add(sym xproto.Keysym, code xproto.Keycode) {
	for _, c := range k.codes[sym] {
		if c == code {
			return
		}
	}
	k.codes[sym] = append(k.codes[sym], code)
}

// Keycodes returns every keycode producing sym.
func (k *Keymap) Keycodes(sym xproto.Keysym) []xproto.Keycode {
	return k.codes[sym]
}

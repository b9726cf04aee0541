// Package hotkey registers global key combinations on the X server.
package hotkey

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
)

// Keysyms used by the combos and the preview window.
const (
	KeysymEscape xproto.Keysym = 0xff1b
	KeysymPrint  xproto.Keysym = 0xff61
	KeysymSpace  xproto.Keysym = 0x0020
	keysymF1     xproto.Keysym = 0xffbe
)

var modifiers = map[string]uint16{
	"ctrl":    xproto.ModMaskControl,
	"control": xproto.ModMaskControl,
	"alt":     xproto.ModMask1,
	"shift":   xproto.ModMaskShift,
	"super":   xproto.ModMask4,
	"win":     xproto.ModMask4,
	"meta":    xproto.ModMask4,
}

var namedKeys = map[string]xproto.Keysym{
	"escape": KeysymEscape,
	"esc":    KeysymEscape,
	"print":  KeysymPrint,
	"space":  KeysymSpace,
}

// Combo is a modifier mask plus one key.
type Combo struct {
	Mods   uint16
	Keysym xproto.Keysym
	name   string
}

// ParseCombo parses strings such as "ctrl+alt+1", "super+shift+s" or "print".
func ParseCombo(s string) (Combo, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	if len(parts) == 0 || parts[0] == "" {
		return Combo{}, fmt.Errorf("empty hotkey")
	}

	var c Combo
	for _, p := range parts[:len(parts)-1] {
		mod, ok := modifiers[strings.TrimSpace(p)]
		if !ok {
			return Combo{}, fmt.Errorf("unknown modifier %q in hotkey %q", p, s)
		}
		c.Mods |= mod
	}

	key := strings.TrimSpace(parts[len(parts)-1])
	sym, err := keysymFor(key)
	if err != nil {
		return Combo{}, fmt.Errorf("hotkey %q: %w", s, err)
	}
	c.Keysym = sym
	c.name = normalize(parts)
	return c, nil
}

func keysymFor(key string) (xproto.Keysym, error) {
	if sym, ok := namedKeys[key]; ok {
		return sym, nil
	}
	if len(key) == 1 {
		ch := key[0]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') {
			return xproto.Keysym(ch), nil
		}
	}
	if len(key) >= 2 && key[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(key[1:], "%d", &n); err == nil && n >= 1 && n <= 12 && fmt.Sprint(n) == key[1:] {
			return keysymF1 + xproto.Keysym(n-1), nil
		}
	}
	if _, ok := modifiers[key]; ok {
		return 0, fmt.Errorf("missing key after modifiers")
	}
	return 0, fmt.Errorf("unknown key %q", key)
}

func normalize(parts []string) string {
	mods := make([]string, 0, len(parts)-1)
	for _, p := range parts[:len(parts)-1] {
		mods = append(mods, strings.TrimSpace(p))
	}
	sort.Strings(mods)
	return strings.Join(append(mods, strings.TrimSpace(parts[len(parts)-1])), "+")
}

func (c Combo) String() string {
	return c.name
}

package display

import (
	"fmt"
	"image"
	"net/url"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/preview"
)

// Drag source side of the XDND protocol:
// https://www.freedesktop.org/wiki/Specifications/XDND/

const (
	xdndVersion = 5
	// oldest target version that understands XdndStatus flags we rely on
	xdndMinVersion = 3
	findDepth      = 8
	finishTimeout  = 5 * time.Second
)

type xdndAtoms struct {
	aware, selection                     xproto.Atom
	enter, position, status, leave, drop xproto.Atom
	finished, actionCopy                 xproto.Atom
	targets, uriList, png                xproto.Atom
}

func (a xdndAtoms) types() []xproto.Atom {
	return []xproto.Atom{a.uriList, a.png}
}

func (m *Manager) xdndAtoms() (xdndAtoms, error) {
	names := []string{
		"XdndAware", "XdndSelection",
		"XdndEnter", "XdndPosition", "XdndStatus", "XdndLeave", "XdndDrop",
		"XdndFinished", "XdndActionCopy",
		"TARGETS", "text/uri-list", "image/png",
	}
	got := make([]xproto.Atom, len(names))
	for i, name := range names {
		a, err := m.atom(name)
		if err != nil {
			return xdndAtoms{}, fmt.Errorf("failed to intern %s: %w", name, err)
		}
		got[i] = a
	}
	return xdndAtoms{
		aware: got[0], selection: got[1],
		enter: got[2], position: got[3], status: got[4], leave: got[5], drop: got[6],
		finished: got[7], actionCopy: got[8],
		targets: got[9], uriList: got[10], png: got[11],
	}, nil
}

// dndWire is the X side of a drag.
type dndWire interface {
	findDropTarget(at image.Point, self xproto.Window) (xproto.Window, uint32)
	sendMessage(to xproto.Window, typ xproto.Atom, data [5]uint32)
	setProperty(win xproto.Window, property, typ xproto.Atom, format byte, data []byte) error
	notifySelection(ev xproto.SelectionNotifyEvent)
	ownSelection(owner xproto.Window, selection xproto.Atom, t xproto.Timestamp)
}

// dragSource offers one export to whichever XdndAware window is under
// the pointer. Only an XdndFinished reporting success counts as a copy.
type dragSource struct {
	wire    dndWire
	source  xproto.Window
	atoms   xdndAtoms
	export  preview.Export
	done    func(preview.DropOp)
	timeout time.Duration

	mu          sync.Mutex
	target      xproto.Window
	version     uint32
	accepted    bool
	awaiting    bool // position sent, status not yet received
	pending     *image.Point
	pendingTime xproto.Timestamp
	dropped     bool
	completed   bool
	timer       *time.Timer
}

func newDragSource(wire dndWire, source xproto.Window, atoms xdndAtoms, export preview.Export, done func(preview.DropOp)) *dragSource {
	return &dragSource{
		wire:    wire,
		source:  source,
		atoms:   atoms,
		export:  export,
		done:    done,
		timeout: finishTimeout,
	}
}

func (d *dragSource) begin(t xproto.Timestamp) {
	d.wire.ownSelection(d.source, d.atoms.selection, t)
}

func (d *dragSource) move(at image.Point, t xproto.Timestamp) {
	target, version := d.wire.findDropTarget(at, d.source)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dropped {
		return
	}

	if target != d.target {
		if d.target != 0 {
			d.wire.sendMessage(d.target, d.atoms.leave, leaveData(d.source))
		}
		d.target = target
		d.version = version
		d.accepted = false
		d.awaiting = false
		d.pending = nil
		if target != 0 {
			d.wire.sendMessage(target, d.atoms.enter, enterData(d.source, version, d.atoms.types()))
		}
	}
	if d.target == 0 {
		return
	}

	if d.awaiting {
		p := at
		d.pending = &p
		d.pendingTime = t
		return
	}
	d.sendPosition(at, t)
}

func (d *dragSource) sendPosition(at image.Point, t xproto.Timestamp) {
	d.wire.sendMessage(d.target, d.atoms.position, positionData(d.source, at, t, d.atoms.actionCopy))
	d.awaiting = true
}

func (d *dragSource) status(data [5]uint32) {
	target, accepted := parseStatus(data)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dropped || target != d.target {
		return
	}
	d.accepted = accepted
	d.awaiting = false
	if d.pending != nil {
		at := *d.pending
		d.pending = nil
		d.sendPosition(at, d.pendingTime)
	}
}

func (d *dragSource) release(t xproto.Timestamp) {
	d.mu.Lock()
	if d.dropped {
		d.mu.Unlock()
		return
	}
	d.dropped = true
	target, accepted := d.target, d.accepted

	if target == 0 {
		d.mu.Unlock()
		d.complete(preview.DropNone)
		return
	}
	if !accepted {
		d.wire.sendMessage(target, d.atoms.leave, leaveData(d.source))
		d.mu.Unlock()
		d.complete(preview.DropNone)
		return
	}

	d.wire.sendMessage(target, d.atoms.drop, dropData(d.source, t))
	d.timer = time.AfterFunc(d.timeout, func() {
		logger.WithComponent("display").Warn().
			Uint32("target", uint32(target)).
			Msg("Drop target never finished")
		d.complete(preview.DropNone)
	})
	d.mu.Unlock()
}

func (d *dragSource) finished(data [5]uint32) {
	d.mu.Lock()
	target, ok := parseFinished(data, d.version)
	if !d.dropped || target != d.target {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if ok {
		d.complete(preview.DropCopy)
		return
	}
	d.complete(preview.DropNone)
}

func (d *dragSource) complete(op preview.DropOp) {
	d.mu.Lock()
	if d.completed {
		d.mu.Unlock()
		return
	}
	d.completed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.done(op)
}

// serve answers a target reading XdndSelection.
func (d *dragSource) serve(e xproto.SelectionRequestEvent) {
	property := e.Property
	if property == xproto.AtomNone {
		// pre-ICCCM requestors
		property = e.Target
	}

	var err error
	switch e.Target {
	case d.atoms.targets:
		list := []xproto.Atom{d.atoms.targets, d.atoms.uriList, d.atoms.png}
		buf := make([]byte, 4*len(list))
		for i, a := range list {
			xgb.Put32(buf[i*4:], uint32(a))
		}
		err = d.wire.setProperty(e.Requestor, property, xproto.AtomAtom, 32, buf)
	case d.atoms.uriList:
		err = d.wire.setProperty(e.Requestor, property, d.atoms.uriList, 8, []byte(fileURIList(d.export.Path)))
	case d.atoms.png:
		err = d.wire.setProperty(e.Requestor, property, d.atoms.png, 8, d.export.PNG)
	default:
		property = xproto.AtomNone
	}
	if err != nil {
		logger.WithComponent("display").Warn().
			Err(err).
			Uint32("requestor", uint32(e.Requestor)).
			Msg("Failed to hand over drag data")
		property = xproto.AtomNone
	}

	d.wire.notifySelection(xproto.SelectionNotifyEvent{
		Time:      e.Time,
		Requestor: e.Requestor,
		Selection: e.Selection,
		Target:    e.Target,
		Property:  property,
	})
}

func enterData(source xproto.Window, version uint32, types []xproto.Atom) [5]uint32 {
	data := [5]uint32{uint32(source), version << 24}
	if len(types) > 3 {
		data[1] |= 1
	}
	for i := 0; i < len(types) && i < 3; i++ {
		data[2+i] = uint32(types[i])
	}
	return data
}

func positionData(source xproto.Window, at image.Point, t xproto.Timestamp, action xproto.Atom) [5]uint32 {
	return [5]uint32{
		uint32(source),
		0,
		uint32(uint16(at.X))<<16 | uint32(uint16(at.Y)),
		uint32(t),
		uint32(action),
	}
}

func dropData(source xproto.Window, t xproto.Timestamp) [5]uint32 {
	return [5]uint32{uint32(source), 0, uint32(t)}
}

func leaveData(source xproto.Window) [5]uint32 {
	return [5]uint32{uint32(source)}
}

func parseStatus(data [5]uint32) (xproto.Window, bool) {
	return xproto.Window(data[0]), data[1]&1 == 1
}

// parseFinished reports success. Targets older than version 5 carry no
// success flag.
func parseFinished(data [5]uint32, version uint32) (xproto.Window, bool) {
	if version < 5 {
		return xproto.Window(data[0]), true
	}
	return xproto.Window(data[0]), data[1]&1 == 1
}

func messageData(e xproto.ClientMessageEvent) [5]uint32 {
	var data [5]uint32
	copy(data[:], e.Data.Data32)
	return data
}

func fileURIList(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String() + "\r\n"
}

// chunks splits n bytes into [start, end) ranges of at most limit bytes.
// An empty payload still yields one empty range.
func chunks(n, limit int) [][2]int {
	if n == 0 || limit <= 0 {
		return [][2]int{{0, n}}
	}
	var out [][2]int
	for start := 0; start < n; start += limit {
		end := start + limit
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func (m *Manager) findDropTarget(at image.Point, self xproto.Window) (xproto.Window, uint32) {
	aware, err := m.atom("XdndAware")
	if err != nil {
		return 0, 0
	}

	root := m.screen.Root
	win := root
	for i := 0; i < findDepth; i++ {
		reply, err := xproto.TranslateCoordinates(m.conn, root, win, int16(at.X), int16(at.Y)).Reply()
		if err != nil || reply.Child == 0 {
			return 0, 0
		}
		child := reply.Child
		if child == self {
			return 0, 0
		}

		prop, err := xproto.GetProperty(m.conn, false, child, aware, xproto.AtomAtom, 0, 1).Reply()
		if err == nil && prop.Format == 32 && prop.ValueLen > 0 {
			version := xgb.Get32(prop.Value)
			if version < xdndMinVersion {
				return 0, 0
			}
			if version > xdndVersion {
				version = xdndVersion
			}
			return child, version
		}
		win = child
	}
	return 0, 0
}

func (m *Manager) sendMessage(to xproto.Window, typ xproto.Atom, data [5]uint32) {
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: to,
		Type:   typ,
		Data:   xproto.ClientMessageDataUnionData32New(data[:]),
	}
	xproto.SendEvent(m.conn, false, to, xproto.EventMaskNoEvent, string(ev.Bytes()))
}

// setProperty writes data in pieces that fit the maximum request length.
func (m *Manager) setProperty(win xproto.Window, property, typ xproto.Atom, format byte, data []byte) error {
	// request length is counted in 4-byte units and ChangeProperty has a 24-byte header
	limit := int(xproto.Setup(m.conn).MaximumRequestLength)*4 - 24
	limit -= limit % 4
	unit := int(format) / 8

	mode := byte(xproto.PropModeReplace)
	for _, c := range chunks(len(data), limit) {
		part := data[c[0]:c[1]]
		err := xproto.ChangePropertyChecked(m.conn, mode, win, property, typ, format, uint32(len(part)/unit), part).Check()
		if err != nil {
			return fmt.Errorf("failed to set property: %w", err)
		}
		mode = xproto.PropModeAppend
	}
	return nil
}

func (m *Manager) notifySelection(ev xproto.SelectionNotifyEvent) {
	xproto.SendEvent(m.conn, false, ev.Requestor, xproto.EventMaskNoEvent, string(ev.Bytes()))
}

func (m *Manager) ownSelection(owner xproto.Window, selection xproto.Atom, t xproto.Timestamp) {
	xproto.SetSelectionOwner(m.conn, owner, selection, t)
}

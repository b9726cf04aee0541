package display

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/preview"
)

const (
	fadeSteps     = 10
	dragThreshold = 6
	opaque        = 0xffffffff
)

// Window is a borderless, override-redirect preview window. It
// implements preview.Surface.
type Window struct {
	m          *Manager
	sessionID  string
	controller preview.Controller

	mu        sync.Mutex
	id        xproto.Window
	gc        xproto.Gcontext
	frame     image.Rectangle
	canvas    *image.RGBA
	destroyed bool

	pressing bool
	pressAt  image.Point
	dragging bool
	// kept after the drop so the target can still read the selection
	drag *dragSource
}

func newWindow(m *Manager, sessionID string, c preview.Controller) *Window {
	return &Window{m: m, sessionID: sessionID, controller: c}
}

// Show creates the window at frame, fully transparent, and draws img.
func (w *Window) Show(frame image.Rectangle, img image.Image) error {
	conn := w.m.conn
	screen := w.m.screen

	wid, err := xproto.NewWindowId(conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}

	mask := uint32(xproto.CwBackPixel | xproto.CwOverrideRedirect | xproto.CwEventMask)
	values := []uint32{
		0x202020,
		1, // override redirect: no decorations, no placement by the WM
		xproto.EventMaskExposure |
			xproto.EventMaskButtonPress |
			xproto.EventMaskButtonRelease |
			xproto.EventMaskButton1Motion |
			xproto.EventMaskKeyPress,
	}

	err = xproto.CreateWindowChecked(
		conn,
		screen.RootDepth,
		wid,
		screen.Root,
		int16(frame.Min.X), int16(frame.Min.Y),
		uint16(frame.Dx()), uint16(frame.Dy()),
		0,
		xproto.WindowClassInputOutput,
		screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	w.mu.Lock()
	w.id = wid
	w.frame = frame
	w.canvas = Compose(img, frame.Size())
	w.mu.Unlock()

	log := logger.WithComponent("display")
	if err := w.setTitle("ScreenCap Preview"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := w.setClass("screencap", "ScreenCap"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}
	if err := w.setWindowType("_NET_WM_WINDOW_TYPE_NOTIFICATION"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window type")
	}
	w.setOpacity(0)

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		xproto.DestroyWindow(conn, wid)
		return fmt.Errorf("failed to create graphics context ID: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(wid), 0, nil).Check(); err != nil {
		xproto.DestroyWindow(conn, wid)
		return fmt.Errorf("failed to create GC: %w", err)
	}
	w.mu.Lock()
	w.gc = gc
	w.mu.Unlock()

	w.m.register(w)

	if err := xproto.MapWindowChecked(conn, wid).Check(); err != nil {
		w.Destroy()
		return fmt.Errorf("failed to map window: %w", err)
	}
	w.redraw()

	log.Debug().
		Str("preview", w.sessionID).
		Uint32("window_id", uint32(wid)).
		Stringer("frame", frame).
		Msg("Preview window created")
	return nil
}

// FadeIn raises the window opacity to 1 over d.
func (w *Window) FadeIn(d time.Duration, done func()) {
	go w.fade(0, 1, d, done)
}

// FadeOut lowers the window opacity to 0 over d.
func (w *Window) FadeOut(d time.Duration, done func()) {
	go w.fade(1, 0, d, done)
}

func (w *Window) fade(from, to float64, d time.Duration, done func()) {
	interval := d / fadeSteps
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; i <= fadeSteps; i++ {
		<-ticker.C
		if w.isDestroyed() {
			break
		}
		w.setOpacity(from + (to-from)*float64(i)/fadeSteps)
	}
	done()
}

// Destroy removes the window. It is safe to call more than once.
func (w *Window) Destroy() {
	w.mu.Lock()
	if w.destroyed || w.id == 0 {
		w.destroyed = true
		w.mu.Unlock()
		return
	}
	w.destroyed = true
	id, gc := w.id, w.gc
	w.canvas = nil
	w.mu.Unlock()

	w.m.unregister(w)
	if gc != 0 {
		xproto.FreeGC(w.m.conn, gc)
	}
	xproto.DestroyWindow(w.m.conn, id)
	w.m.conn.Sync()
}

func (w *Window) isDestroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

func (w *Window) buttonPress(e xproto.ButtonPressEvent) {
	local := image.Pt(int(e.EventX), int(e.EventY))

	w.mu.Lock()
	size := w.frame.Size()
	w.mu.Unlock()

	if e.Detail == xproto.ButtonIndex1 && local.In(CloseButton(size)) {
		w.controller.Close()
		return
	}

	w.controller.PointerDown()

	// focus the preview so Escape reaches it
	xproto.SetInputFocus(w.m.conn, xproto.InputFocusParent, w.id, xproto.TimeCurrentTime)

	if e.Detail == xproto.ButtonIndex1 {
		w.mu.Lock()
		w.pressing = true
		w.dragging = false
		w.pressAt = image.Pt(int(e.RootX), int(e.RootY))
		w.mu.Unlock()
	}
}

func (w *Window) motion(e xproto.MotionNotifyEvent) {
	at := image.Pt(int(e.RootX), int(e.RootY))

	w.mu.Lock()
	if !w.pressing {
		w.mu.Unlock()
		return
	}
	if w.dragging {
		ds := w.drag
		w.mu.Unlock()
		if ds != nil {
			ds.move(at, e.Time)
		}
		return
	}
	delta := at.Sub(w.pressAt)
	if delta.X*delta.X+delta.Y*delta.Y < dragThreshold*dragThreshold {
		w.mu.Unlock()
		return
	}
	w.dragging = true
	id := w.id
	w.mu.Unlock()

	log := logger.WithComponent("display")

	export, err := w.controller.BeginDrag()
	if err != nil {
		log.Warn().
			Err(err).
			Str("preview", w.sessionID).
			Msg("Failed to start drag")
		w.mu.Lock()
		w.dragging = false
		w.mu.Unlock()
		return
	}

	atoms, err := w.m.xdndAtoms()
	if err != nil {
		log.Warn().
			Err(err).
			Str("preview", w.sessionID).
			Msg("Drag and drop unavailable")
		w.mu.Lock()
		w.dragging = false
		w.mu.Unlock()
		w.controller.EndDrag(preview.DropNone)
		return
	}

	ds := newDragSource(w.m, id, atoms, export, w.dragEnded)
	ds.begin(e.Time)

	w.mu.Lock()
	w.drag = ds
	w.mu.Unlock()

	log.Debug().
		Str("preview", w.sessionID).
		Str("path", export.Path).
		Msg("Drag started")
	ds.move(at, e.Time)
}

// buttonRelease drops on the current target. The outcome arrives later
// through dragEnded.
func (w *Window) buttonRelease(e xproto.ButtonReleaseEvent) {
	if e.Detail != xproto.ButtonIndex1 {
		return
	}

	w.mu.Lock()
	wasDragging := w.dragging
	ds := w.drag
	w.pressing = false
	w.dragging = false
	w.mu.Unlock()

	if wasDragging && ds != nil {
		ds.release(e.Time)
	}
}

func (w *Window) dragEnded(op preview.DropOp) {
	if op == preview.DropCopy {
		logger.WithComponent("display").Info().
			Str("preview", w.sessionID).
			Msg("Screenshot dropped")
	}
	w.controller.EndDrag(op)
}

func (w *Window) clientMessage(e xproto.ClientMessageEvent, atoms xdndAtoms) {
	w.mu.Lock()
	ds := w.drag
	w.mu.Unlock()
	if ds == nil || e.Format != 32 {
		return
	}

	switch e.Type {
	case atoms.status:
		ds.status(messageData(e))
	case atoms.finished:
		ds.finished(messageData(e))
	}
}

func (w *Window) selectionRequest(e xproto.SelectionRequestEvent) {
	w.mu.Lock()
	ds := w.drag
	w.mu.Unlock()

	if ds == nil {
		w.m.notifySelection(xproto.SelectionNotifyEvent{
			Time:      e.Time,
			Requestor: e.Requestor,
			Selection: e.Selection,
			Target:    e.Target,
			Property:  xproto.AtomNone,
		})
		return
	}
	ds.serve(e)
}

func (w *Window) redraw() {
	w.mu.Lock()
	canvas, id, gc, destroyed := w.canvas, w.id, w.gc, w.destroyed
	w.mu.Unlock()

	if destroyed || canvas == nil || gc == 0 {
		return
	}
	if err := w.putImage(id, gc, canvas); err != nil {
		logger.WithComponent("display").Warn().
			Err(err).
			Str("preview", w.sessionID).
			Msg("Failed to draw preview")
	}
}

// putImage converts img to the root visual's ZPixmap layout and sends it
// in horizontal strips that fit the maximum request length.
func (w *Window) putImage(id xproto.Window, gc xproto.Gcontext, img *image.RGBA) error {
	conn := w.m.conn
	depth := w.m.screen.RootDepth
	setup := xproto.Setup(conn)

	var bitsPerPixel, scanlinePad uint8
	for _, format := range setup.PixmapFormats {
		if format.Depth == depth {
			bitsPerPixel = format.BitsPerPixel
			scanlinePad = format.ScanlinePad
			break
		}
	}
	if bitsPerPixel == 0 {
		return fmt.Errorf("no format found for depth %d", depth)
	}

	bytesPerPixel := int(bitsPerPixel) / 8
	if bytesPerPixel != 3 && bytesPerPixel != 4 {
		return fmt.Errorf("unsupported bytes per pixel: %d", bytesPerPixel)
	}

	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	padBytes := int(scanlinePad) / 8
	stride := ((width*bytesPerPixel + padBytes - 1) / padBytes) * padBytes

	// request length is counted in 4-byte units and PutImage has a 24-byte header
	maxData := int(setup.MaximumRequestLength)*4 - 24
	rowsPerStrip := maxData / stride
	if rowsPerStrip < 1 {
		return fmt.Errorf("preview too wide for a single request")
	}

	for top := 0; top < height; top += rowsPerStrip {
		rows := rowsPerStrip
		if top+rows > height {
			rows = height - top
		}

		data := make([]byte, stride*rows)
		for y := 0; y < rows; y++ {
			src := img.Pix[(top+y)*img.Stride:]
			dst := data[y*stride:]
			for x := 0; x < width; x++ {
				s := src[x*4:]
				d := dst[x*bytesPerPixel:]
				d[0] = s[2]
				d[1] = s[1]
				d[2] = s[0]
				if bytesPerPixel == 4 && depth == 32 {
					d[3] = s[3]
				}
			}
		}

		err := xproto.PutImageChecked(
			conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(id),
			gc,
			uint16(width), uint16(rows),
			0, int16(top),
			0,
			depth,
			data,
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

func (w *Window) setOpacity(opacity float64) {
	w.mu.Lock()
	id, destroyed := w.id, w.destroyed
	w.mu.Unlock()
	if destroyed {
		return
	}

	a, err := w.m.atom("_NET_WM_WINDOW_OPACITY")
	if err != nil {
		return
	}

	buf := make([]byte, 4)
	xgb.Put32(buf, uint32(opacity*opaque))
	xproto.ChangeProperty(w.m.conn, xproto.PropModeReplace, id, a, xproto.AtomCardinal, 32, 1, buf)
}

func (w *Window) setTitle(title string) error {
	titleAtom, err := w.m.atom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := w.m.atom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		w.m.conn,
		xproto.PropModeReplace,
		w.id,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

func (w *Window) setClass(instance, class string) error {
	classStr := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(
		w.m.conn,
		xproto.PropModeReplace,
		w.id,
		xproto.AtomWmClass,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (w *Window) setWindowType(name string) error {
	typeAtom, err := w.m.atom("_NET_WM_WINDOW_TYPE")
	if err != nil {
		return err
	}
	value, err := w.m.atom(name)
	if err != nil {
		return err
	}
	buf := make([]byte, 4)
	xgb.Put32(buf, uint32(value))
	return xproto.ChangePropertyChecked(
		w.m.conn,
		xproto.PropModeReplace,
		w.id,
		typeAtom,
		xproto.AtomAtom,
		32,
		1,
		buf,
	).Check()
}

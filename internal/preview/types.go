// Package preview drives the floating thumbnail shown after a capture.
//
// A Session moves Appearing -> Visible -> Closing -> Closed, with a
// Dragging sub-state while the image is being dragged out. All state
// changes run on the event loop; surfaces report user input through the
// Controller methods, which may be called from any goroutine.
package preview

import (
	"errors"
	"fmt"
	"image"
	"time"
)

const (
	// OpenDuration is the fade in before the preview becomes interactive.
	OpenDuration = 300 * time.Millisecond
	// CloseDuration is the fade out before the surface is destroyed.
	CloseDuration = 200 * time.Millisecond
	// DropGrace delays the close after a successful copy drop so the
	// receiving application can read the file.
	DropGrace = 500 * time.Millisecond
	// PointerOffset separates the preview from the pointer.
	PointerOffset = 20
	// DragIconSide is the size of the thumbnail under the pointer.
	DragIconSide = 64
)

// MaxSize bounds the preview image.
var MaxSize = image.Pt(400, 300)

// ErrClosed is returned for operations on a closing or closed session.
var ErrClosed = errors.New("preview is closed")

// ErrNotFound is returned by the Registry for unknown session IDs.
var ErrNotFound = errors.New("preview not found")

// State is a session lifecycle state.
type State int

const (
	StateAppearing State = iota
	StateVisible
	StateDragging
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAppearing:
		return "appearing"
	case StateVisible:
		return "visible"
	case StateDragging:
		return "dragging"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := StateAppearing; st <= StateClosed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown preview state %q", text)
}

// Trigger records why a session closed.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerTimer
	TriggerUser
	TriggerDragExport
)

func (t Trigger) String() string {
	switch t {
	case TriggerTimer:
		return "timer"
	case TriggerUser:
		return "user"
	case TriggerDragExport:
		return "drag_export"
	}
	return ""
}

func (t Trigger) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Trigger) UnmarshalText(text []byte) error {
	for tr := TriggerNone; tr <= TriggerDragExport; tr++ {
		if tr.String() == string(text) {
			*t = tr
			return nil
		}
	}
	return fmt.Errorf("unknown close trigger %q", text)
}

// DropOp is the operation the drop target accepted.
type DropOp int

const (
	// DropNone means the drop failed or was cancelled.
	DropNone DropOp = iota
	// DropCopy means the target copied the exported file.
	DropCopy
)

// Export is the payload offered while dragging.
type Export struct {
	// PNG holds the encoded image for targets that accept data.
	PNG []byte
	// Path is a temporary file for targets that accept files.
	Path string
	// Icon is the thumbnail shown under the pointer.
	Icon image.Image
}

// Info is a point-in-time view of a session, safe to read anywhere.
type Info struct {
	ID      string          `json:"id"`
	State   State           `json:"state"`
	Trigger Trigger         `json:"trigger,omitempty"`
	Frame   image.Rectangle `json:"frame"`
	// Path is the saved capture file shown by this preview.
	Path string `json:"path,omitempty"`
}

// Controller receives user input from a surface.
type Controller interface {
	// PointerDown is any press on the preview; it restarts the auto close timer.
	PointerDown()
	// Close is the close button or the Escape key.
	Close()
	// BeginDrag starts dragging the image out and returns the payload.
	BeginDrag() (Export, error)
	// EndDrag reports how the drop ended.
	EndDrag(op DropOp)
}

// Surface is the on-screen window of one session. Animation callbacks
// may run on any goroutine.
type Surface interface {
	Show(frame image.Rectangle, img image.Image) error
	FadeIn(d time.Duration, done func())
	FadeOut(d time.Duration, done func())
	Destroy()
}

// SurfaceFactory creates the surface for a new session; c receives its input.
type SurfaceFactory func(id string, c Controller) (Surface, error)

// Screen locates the pointer and the display it is on.
type Screen interface {
	Pointer() (image.Point, error)
	Frame() (image.Rectangle, error)
}

package capture

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/google/uuid"
)

// Kind selects how the screen is captured.
type Kind int

const (
	KindFullScreen Kind = iota
	KindSelection
	KindWindow
)

func (k Kind) String() string {
	switch k {
	case KindFullScreen:
		return "full_screen"
	case KindSelection:
		return "selection"
	case KindWindow:
		return "window"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Label is the human readable name used in notifications.
func (k Kind) Label() string {
	switch k {
	case KindFullScreen:
		return "Full screen"
	case KindSelection:
		return "Selection"
	case KindWindow:
		return "Window"
	}
	return k.String()
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind accepts the names used by the CLI and the control API.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "full_screen", "fullscreen", "screen":
		return KindFullScreen, nil
	case "selection", "region", "area":
		return KindSelection, nil
	case "window":
		return KindWindow, nil
	}
	return 0, fmt.Errorf("unknown capture kind %q (expected full, selection or window)", s)
}

// Request is one user trigger. It is immutable once created.
type Request struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// NewRequest stamps a request with a fresh ID.
func NewRequest(kind Kind) Request {
	return Request{ID: uuid.NewString(), Kind: kind}
}

// Status is the variant of an Outcome.
type Status int

const (
	StatusImage Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusImage:
		return "image"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the result of a strategy: an image, a user cancellation or
// a failure. Cancelled carries no error.
type Outcome struct {
	Status Status
	Image  image.Image
	// Source is the captured area in screen coordinates. It is empty
	// when the producing tool does not report it.
	Source image.Rectangle
	Err    error
}

// Captured builds an image outcome.
func Captured(img image.Image, source image.Rectangle) Outcome {
	return Outcome{Status: StatusImage, Image: img, Source: source}
}

// Cancelled builds a cancelled outcome.
func Cancelled() Outcome {
	return Outcome{Status: StatusCancelled}
}

// Failed builds a failure outcome.
func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}

// Strategy produces exactly one Outcome per request. Capture may block;
// callers run it off the event loop.
type Strategy interface {
	Capture(ctx context.Context, req Request) Outcome
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, req Request) Outcome

func (f StrategyFunc) Capture(ctx context.Context, req Request) Outcome { return f(ctx, req) }

// Strategies maps each kind to its strategy.
type Strategies map[Kind]Strategy

// For returns the strategy registered for kind.
func (s Strategies) For(kind Kind) (Strategy, error) {
	st, ok := s[kind]
	if !ok || st == nil {
		return nil, fmt.Errorf("no strategy for %s", kind)
	}
	return st, nil
}

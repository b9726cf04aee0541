// Package permission decides whether the screen can be captured right now.
package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/clock"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

// State is the outcome of one permission check.
type State string

const (
	StateGranted  State = "granted"
	StateDenied   State = "denied"
	StateTimedOut State = "timed_out"
)

// Granted reports whether capture may proceed.
func (s State) Granted() bool {
	return s == StateGranted
}

// ErrDenied is returned to callers that need an error for a non-granted state.
var ErrDenied = errors.New("screen capture permission not granted")

// Probe asks the platform which surfaces (displays or windows) this
// process may capture. It returns how many it found.
type Probe interface {
	Name() string
	Surfaces(ctx context.Context) (int, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (int, error)

func (f ProbeFunc) Name() string { return "func" }

func (f ProbeFunc) Surfaces(ctx context.Context) (int, error) { return f(ctx) }

// Gate runs a Probe with a bounded wait. The result is never cached:
// access can be granted or revoked between captures.
type Gate struct {
	probe Probe
	clock clock.Clock
}

// NewGate creates a gate around probe.
func NewGate(probe Probe, c clock.Clock) *Gate {
	if c == nil {
		c = clock.Real{}
	}
	return &Gate{probe: probe, clock: c}
}

type probeResult struct {
	surfaces int
	err      error
}

// Check probes and waits at most timeout. A probe that is still running
// when the wait ends is abandoned; it writes into a buffered channel that
// nothing reads, so finishing late is harmless.
func (g *Gate) Check(ctx context.Context, timeout time.Duration) State {
	log := logger.WithComponent("permission")

	if g.probe == nil {
		log.Warn().Msg("No permission probe configured")
		return StateDenied
	}

	probeCtx, cancel := context.WithCancel(context.Background())
	results := make(chan probeResult, 1)
	go func() {
		n, err := g.probe.Surfaces(probeCtx)
		results <- probeResult{surfaces: n, err: err}
	}()

	var state State
	select {
	case res := <-results:
		cancel()
		switch {
		case res.err != nil:
			log.Info().Err(res.err).Str("probe", g.probe.Name()).Msg("Permission probe failed")
			state = StateDenied
		case res.surfaces < 1:
			log.Info().Str("probe", g.probe.Name()).Msg("Permission probe found no capturable surfaces")
			state = StateDenied
		default:
			log.Debug().Str("probe", g.probe.Name()).Int("surfaces", res.surfaces).Msg("Permission granted")
			state = StateGranted
		}
	case <-g.clock.After(timeout):
		// the probe keeps its own context; it is not cancelled, only ignored
		go func() {
			<-results
			cancel()
		}()
		log.Warn().Dur("timeout", timeout).Str("probe", g.probe.Name()).Msg("Permission probe timed out")
		state = StateTimedOut
	case <-ctx.Done():
		go func() {
			<-results
			cancel()
		}()
		state = StateDenied
	}
	return state
}

// Instructions is the remediation text shown when capture is not allowed.
func Instructions(state State) string {
	reason := "Screen capture is not available."
	if state == StateTimedOut {
		reason = "Checking screen capture access took too long."
	}
	return fmt.Sprintf("%s\n\n"+
		"1. Make sure a graphical session is running and DISPLAY is set (X11),\n"+
		"   or xdg-desktop-portal is installed (Wayland).\n"+
		"2. Allow ScreenCap in your desktop's screen sharing / screenshot privacy settings.\n"+
		"3. Try the capture again.", reason)
}

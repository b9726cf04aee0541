package permission

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/godbus/dbus/v5"
)

// X11Probe counts active outputs on the X server and verifies that a
// 1x1 image of the root window can actually be read.
type X11Probe struct {
	// Display overrides $DISPLAY when set.
	Display string
}

func (p X11Probe) Name() string { return "x11" }

func (p X11Probe) Surfaces(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	conn, err := xgb.NewConnDisplay(p.Display)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to X server: %w", err)
	}
	defer conn.Close()

	screen := xproto.Setup(conn).DefaultScreen(conn)

	if _, err := xproto.GetImage(
		conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(screen.Root),
		0, 0, 1, 1,
		0xffffffff,
	).Reply(); err != nil {
		return 0, fmt.Errorf("failed to read root window: %w", err)
	}

	surfaces := activeOutputs(conn, screen.Root)
	if surfaces == 0 {
		// no RandR: the root window itself is the only display
		surfaces = 1
	}
	return surfaces, nil
}

func activeOutputs(conn *xgb.Conn, root xproto.Window) int {
	if err := randr.Init(conn); err != nil {
		logger.WithComponent("permission").Debug().Err(err).Msg("RandR not available")
		return 0
	}
	res, err := randr.GetScreenResourcesCurrent(conn, root).Reply()
	if err != nil {
		return 0
	}
	n := 0
	for _, crtc := range res.Crtcs {
		info, err := randr.GetCrtcInfo(conn, crtc, res.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}
		if info.Width > 0 && info.Height > 0 && len(info.Outputs) > 0 {
			n++
		}
	}
	return n
}

// PortalProbe checks that xdg-desktop-portal exposes the Screenshot
// interface on the session bus, which is how Wayland sessions grant capture.
type PortalProbe struct{}

const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenshotIface = "org.freedesktop.portal.Screenshot"
)

func (PortalProbe) Name() string { return "portal" }

func (PortalProbe) Surfaces(ctx context.Context) (int, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return 0, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	var version dbus.Variant
	err = conn.Object(portalService, portalPath).
		CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, screenshotIface, "version").
		Store(&version)
	if err != nil {
		return 0, fmt.Errorf("screenshot portal unavailable: %w", err)
	}

	logger.WithComponent("permission").Debug().
		Interface("version", version.Value()).
		Msg("Screenshot portal available")
	return 1, nil
}

// FirstGranted tries each probe in order and returns the first positive count.
type FirstGranted []Probe

func (p FirstGranted) Name() string {
	name := "first("
	for i, probe := range p {
		if i > 0 {
			name += ","
		}
		name += probe.Name()
	}
	return name + ")"
}

func (p FirstGranted) Surfaces(ctx context.Context) (int, error) {
	var errs []error
	for _, probe := range p {
		n, err := probe.Surfaces(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", probe.Name(), err))
			continue
		}
		if n > 0 {
			return n, nil
		}
	}
	return 0, errors.Join(errs...)
}

// DefaultProbe picks probes for the current session: Wayland sessions
// ask the portal first, everything else asks X11 first.
func DefaultProbe() Probe {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return FirstGranted{PortalProbe{}, X11Probe{}}
	}
	return FirstGranted{X11Probe{}, PortalProbe{}}
}

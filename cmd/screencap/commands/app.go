package commands

import (
	"image"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/capture"
	"github.com/bryanchriswhite/ScreenCap/internal/clock"
	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/bryanchriswhite/ScreenCap/internal/display"
	"github.com/bryanchriswhite/ScreenCap/internal/eventloop"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/naming"
	"github.com/bryanchriswhite/ScreenCap/internal/notify"
	"github.com/bryanchriswhite/ScreenCap/internal/orchestrator"
	"github.com/bryanchriswhite/ScreenCap/internal/permission"
	"github.com/bryanchriswhite/ScreenCap/internal/preview"
)

// fallbackFrame is used for headless previews when no display can be read.
var fallbackFrame = image.Rect(0, 0, 1920, 1080)

// app holds the components shared by the run and capture commands.
type app struct {
	configMgr *config.Manager
	loop      *eventloop.Loop
	router    *capture.Router
	gate      *permission.Gate
	recorder  *notify.Recorder
	dbus      *notify.DBus
	display   *display.Manager
	previews  *preview.Registry
	orch      *orchestrator.Orchestrator
}

// newApp wires the capture pipeline. Missing desktop services degrade:
// no X server means headless previews, no session bus means log-only
// notifications.
func newApp(configMgr *config.Manager, withPreviews bool) *app {
	log := logger.WithComponent("app")

	a := &app{
		configMgr: configMgr,
		loop:      eventloop.New(clock.Real{}),
		router:    capture.NewRouter(capture.DefaultGrabbers()...),
		gate:      permission.NewGate(permission.DefaultProbe(), clock.Real{}),
		recorder:  notify.NewRecorder(),
	}
	a.loop.Start()

	if err := a.router.Start(); err != nil {
		log.Warn().Err(err).Msg("No capture backend available, full screen captures will fail")
	} else {
		log.Info().Strs("backends", a.router.Active()).Msg("Capture backends ready")
	}

	sinks := notify.Multi{notify.Log{}, a.recorder}
	if d, err := notify.NewDBus("ScreenCap"); err != nil {
		log.Warn().Err(err).Msg("Desktop notifications unavailable")
	} else {
		a.dbus = d
		sinks = append(sinks, d)
	}

	if withPreviews {
		a.previews = a.newPreviews()
	}

	tool := func() config.InteractiveTool {
		return configMgr.Snapshot().InteractiveTool
	}

	cfg := orchestrator.Config{
		Loop: a.loop,
		Gate: a.gate,
		Strategies: capture.Strategies{
			capture.KindFullScreen: capture.NewFullScreen(a.router),
			capture.KindSelection:  capture.NewSelection(tool),
			capture.KindWindow:     capture.NewWindow(tool),
		},
		Settings:  configMgr,
		Sink:      sinks,
		Allocator: naming.NewAllocator(),
	}
	if a.previews != nil {
		cfg.Previews = a.previews
	}
	a.orch = orchestrator.New(cfg)
	return a
}

func (a *app) newPreviews() *preview.Registry {
	log := logger.WithComponent("app")

	dm, err := display.NewManager(a.router.MainDisplay)
	if err == nil {
		dm.Start()
		a.display = dm
		return preview.NewRegistry(a.loop, dm.NewSurface, dm)
	}

	log.Warn().Err(err).Msg("No X display for previews, running them headless")
	frame, ferr := a.router.MainDisplay()
	if ferr != nil || frame.Empty() {
		frame = fallbackFrame
	}
	screen := preview.StaticScreen{PointerAt: frame.Min, Bounds: frame}
	return preview.NewRegistry(a.loop, preview.HeadlessFactory(clock.Real{}, nil), screen)
}

// waitPreviews blocks until every open preview has closed or timeout passes.
func (a *app) waitPreviews(timeout time.Duration) {
	if a.previews == nil {
		return
	}
	deadline := time.After(timeout)
	for _, info := range a.previews.List() {
		s, err := a.previews.Get(info.ID)
		if err != nil {
			continue
		}
		select {
		case <-s.Done():
		case <-deadline:
			return
		}
	}
}

// Close aborts captures, closes previews and releases every connection.
func (a *app) Close() {
	a.orch.Close()
	if a.previews != nil {
		a.previews.CloseAll()
		a.waitPreviews(time.Second)
	}
	a.loop.Stop()
	if a.display != nil {
		a.display.Stop()
	}
	a.router.Stop()
	if a.dbus != nil {
		a.dbus.Close()
	}
}

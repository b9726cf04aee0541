// Package orchestrator runs one capture request end to end: permission,
// strategy, file name, write, notification and preview.
package orchestrator

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/capture"
	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/bryanchriswhite/ScreenCap/internal/eventloop"
	"github.com/bryanchriswhite/ScreenCap/internal/imageio"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/naming"
	"github.com/bryanchriswhite/ScreenCap/internal/notify"
	"github.com/bryanchriswhite/ScreenCap/internal/permission"
	"github.com/bryanchriswhite/ScreenCap/internal/preview"
	"github.com/dustin/go-humanize"
)

// SettingsProvider hands out settings snapshots.
type SettingsProvider interface {
	Snapshot() config.Settings
}

// PermissionGate decides whether capture may proceed.
type PermissionGate interface {
	Check(ctx context.Context, timeout time.Duration) permission.State
}

// Previews opens preview sessions.
type Previews interface {
	Open(img image.Image, opts preview.Options) (*preview.Session, error)
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Loop       *eventloop.Loop
	Gate       PermissionGate
	Strategies capture.Strategies
	Settings   SettingsProvider
	Sink       notify.Sink
	// Previews may be nil, in which case no preview is shown.
	Previews  Previews
	Allocator *naming.Allocator
}

// Status is the final state of a request.
type Status string

const (
	StatusSaved     Status = "saved"
	StatusCancelled Status = "cancelled"
	StatusDenied    Status = "denied"
	StatusFailed    Status = "failed"
)

// Saved describes a written capture.
type Saved struct {
	Path   string        `json:"path"`
	Format naming.Format `json:"format"`
	Bytes  int           `json:"bytes"`
}

// Result reports the end of one request to subscribers.
type Result struct {
	Request   capture.Request `json:"request"`
	Status    Status          `json:"status"`
	Saved     *Saved          `json:"saved,omitempty"`
	PreviewID string          `json:"preview_id,omitempty"`

	// PreviewError is set when the file was saved but no preview opened.
	PreviewError string `json:"preview_error,omitempty"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// Orchestrator accepts capture triggers and reports outcomes through the
// notification sink. Requests are independent and may overlap.
type Orchestrator struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	nextSub   int
	listeners map[int]func(Result)
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Allocator == nil {
		cfg.Allocator = naming.NewAllocator()
	}
	if cfg.Sink == nil {
		cfg.Sink = notify.Log{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]func(Result)),
	}
}

// Capture starts a request and returns immediately.
func (o *Orchestrator) Capture(kind capture.Kind) capture.Request {
	req := capture.NewRequest(kind)

	logger.WithComponent("orchestrator").Info().
		Str("request", req.ID).
		Stringer("kind", kind).
		Msg("Capture requested")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(req)
	}()
	return req
}

// CaptureFullScreen captures the main display.
func (o *Orchestrator) CaptureFullScreen() capture.Request {
	return o.Capture(capture.KindFullScreen)
}

// CaptureSelection lets the user select a region.
func (o *Orchestrator) CaptureSelection() capture.Request {
	return o.Capture(capture.KindSelection)
}

// CaptureWindow lets the user pick a window.
func (o *Orchestrator) CaptureWindow() capture.Request {
	return o.Capture(capture.KindWindow)
}

// Wait blocks until every started request has finished and its
// notifications are queued on the loop.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close aborts in-flight requests and waits for them.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// Subscribe registers fn for request results. fn runs on the event loop.
func (o *Orchestrator) Subscribe(fn func(Result)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.listeners[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) run(req capture.Request) {
	log := logger.WithComponent("orchestrator").With().
		Str("request", req.ID).
		Stringer("kind", req.Kind).
		Logger()

	settings := o.cfg.Settings.Snapshot()

	state := o.cfg.Gate.Check(o.ctx, settings.PermissionWait())
	if !state.Granted() {
		log.Warn().Str("permission", string(state)).Msg("Capture not permitted")
		err := &Error{Stage: StagePermission, Request: req.ID, Err: fmt.Errorf("%w (%s)", permission.ErrDenied, state)}
		o.finish(Result{Request: req, Status: StatusDenied, Err: err}, func(*Result) {
			o.cfg.Sink.NotifyError(permission.Instructions(state))
		})
		return
	}

	strategy, err := o.cfg.Strategies.For(req.Kind)
	if err != nil {
		o.fail(req, StageCapture, err)
		return
	}

	started := time.Now()
	outcome := strategy.Capture(o.ctx, req)
	log.Debug().
		Stringer("status", outcome.Status).
		Dur("took", time.Since(started)).
		Msg("Strategy finished")

	switch outcome.Status {
	case capture.StatusCancelled:
		log.Info().Msg("Capture cancelled")
		o.finish(Result{Request: req, Status: StatusCancelled}, nil)
		return
	case capture.StatusFailed:
		o.fail(req, StageCapture, outcome.Err)
		return
	}

	saved, err := o.save(outcome.Image, settings)
	if err != nil {
		o.fail(req, StageWrite, err)
		return
	}

	log.Info().
		Str("path", saved.Path).
		Int("bytes", saved.Bytes).
		Msg("Capture saved")

	message := fmt.Sprintf("%s capture saved: %s (%s)",
		req.Kind.Label(), filepath.Base(saved.Path), humanize.Bytes(uint64(saved.Bytes)))
	o.finish(Result{Request: req, Status: StatusSaved, Saved: &saved}, func(r *Result) {
		o.cfg.Sink.NotifySuccess(message)
		r.PreviewID, r.PreviewError = o.openPreview(req, outcome.Image, saved, settings)
	})
}

// save writes img using the snapshot taken when the request started.
func (o *Orchestrator) save(img image.Image, settings config.Settings) (Saved, error) {
	format, ok := naming.ParseFormat(settings.ImageFormat)
	if !ok {
		logger.WithComponent("orchestrator").Warn().
			Str("image_format", settings.ImageFormat).
			Msg("Unknown image format, saving as PNG")
	}
	policy := settings.NamingPolicy()
	policy.Format = format

	dir := settings.SaveDirectory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Saved{}, fmt.Errorf("%w: failed to create %s: %v", ErrWriteFailed, dir, err)
	}

	name := o.cfg.Allocator.Allocate(policy, dir)
	path := filepath.Join(dir, name)

	data, err := imageio.Encode(img, format)
	if err != nil {
		return Saved{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return Saved{}, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	return Saved{Path: path, Format: format, Bytes: len(data)}, nil
}

// openPreview returns the session ID, or the preview error. The file is
// already saved, so a missing preview never fails the request.
func (o *Orchestrator) openPreview(req capture.Request, img image.Image, saved Saved, settings config.Settings) (string, string) {
	if o.cfg.Previews == nil {
		return "", ""
	}
	session, err := o.cfg.Previews.Open(img, preview.Options{
		AutoClose: settings.PreviewDuration(),
		Path:      saved.Path,
	})
	if err != nil {
		wrapped := &Error{Stage: StagePreview, Request: req.ID, Err: err}
		logger.WithComponent("orchestrator").Warn().
			Err(wrapped).
			Str("request", req.ID).
			Str("stage", string(StagePreview)).
			Msg("Failed to open preview")
		return "", wrapped.Error()
	}
	return session.ID(), ""
}

func (o *Orchestrator) fail(req capture.Request, stage Stage, err error) {
	logger.WithComponent("orchestrator").Error().
		Err(err).
		Str("request", req.ID).
		Str("stage", string(stage)).
		Msg("Capture failed")

	wrapped := &Error{Stage: stage, Request: req.ID, Err: err}
	message := fmt.Sprintf("%s capture failed: %v", req.Kind.Label(), err)
	if stage == StageWrite {
		message = fmt.Sprintf("Failed to save screenshot: %v", err)
	}
	o.finish(Result{Request: req, Status: StatusFailed, Err: wrapped}, func(*Result) {
		o.cfg.Sink.NotifyError(message)
	})
}

// finish runs notify on the loop, then publishes the result there.
func (o *Orchestrator) finish(result Result, notify func(*Result)) {
	posted := o.cfg.Loop.Post(func() {
		if notify != nil {
			notify(&result)
		}
		if result.Err != nil {
			result.Error = result.Err.Error()
		}
		o.publish(result)
	})
	if !posted {
		logger.WithComponent("orchestrator").Warn().
			Str("request", result.Request.ID).
			Msg("Event loop stopped, dropping capture result")
	}
}

func (o *Orchestrator) publish(result Result) {
	o.mu.Lock()
	fns := make([]func(Result), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(result)
	}
}

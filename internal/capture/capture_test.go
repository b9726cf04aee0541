package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

type fakeGrabber struct {
	name      string
	startErr  error
	bounds    image.Rectangle
	boundsErr error
	grabErr   error
	grabbed   []image.Rectangle
}

func (f *fakeGrabber) Name() string { return f.name }
func (f *fakeGrabber) Start() error { return f.startErr }
func (f *fakeGrabber) Stop() error  { return nil }

func (f *fakeGrabber) MainDisplay() (image.Rectangle, error) {
	return f.bounds, f.boundsErr
}

func (f *fakeGrabber) CaptureRegion(r image.Rectangle) (*image.RGBA, error) {
	f.grabbed = append(f.grabbed, r)
	if f.grabErr != nil {
		return nil, f.grabErr
	}
	return image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy())), nil
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"full":        KindFullScreen,
		"full_screen": KindFullScreen,
		"Selection":   KindSelection,
		"region":      KindSelection,
		"window":      KindWindow,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseKind("video"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestFullScreenCapturesMainDisplay(t *testing.T) {
	g := &fakeGrabber{name: "fake", bounds: image.Rect(0, 0, 1920, 1080)}

	out := NewFullScreen(g).Capture(context.Background(), NewRequest(KindFullScreen))
	if out.Status != StatusImage {
		t.Fatalf("expected image, got %v (%v)", out.Status, out.Err)
	}
	if out.Source != g.bounds {
		t.Fatalf("expected source %v, got %v", g.bounds, out.Source)
	}
	if got := out.Image.Bounds().Size(); got != image.Pt(1920, 1080) {
		t.Fatalf("unexpected image size %v", got)
	}
}

func TestFullScreenFailures(t *testing.T) {
	tests := []struct {
		name    string
		grabber Grabber
		want    error
	}{
		{"no grabber", nil, ErrNoDisplay},
		{"no display", &fakeGrabber{boundsErr: errors.New("gone")}, ErrNoDisplay},
		{"grab fails", &fakeGrabber{bounds: image.Rect(0, 0, 10, 10), grabErr: errors.New("bad")}, ErrCaptureFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewFullScreen(tt.grabber).Capture(context.Background(), NewRequest(KindFullScreen))
			if out.Status != StatusFailed || !errors.Is(out.Err, tt.want) {
				t.Fatalf("expected failure wrapping %v, got %v (%v)", tt.want, out.Status, out.Err)
			}
		})
	}
}

func TestRouterFallsBack(t *testing.T) {
	broken := &fakeGrabber{name: "broken", startErr: errors.New("no X")}
	flaky := &fakeGrabber{name: "flaky", bounds: image.Rect(0, 0, 100, 50), grabErr: errors.New("BadMatch")}
	good := &fakeGrabber{name: "good", bounds: image.Rect(0, 0, 100, 50)}

	r := NewRouter(broken, flaky, good)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	if names := r.Active(); len(names) != 2 || names[0] != "flaky" || names[1] != "good" {
		t.Fatalf("unexpected active grabbers %v", names)
	}

	out := NewFullScreen(r).Capture(context.Background(), NewRequest(KindFullScreen))
	if out.Status != StatusImage {
		t.Fatalf("expected image, got %v (%v)", out.Status, out.Err)
	}
	if len(good.grabbed) != 1 {
		t.Fatalf("expected fallback grabber to be used once, got %d", len(good.grabbed))
	}
}

func TestRouterWithoutBackends(t *testing.T) {
	r := NewRouter(&fakeGrabber{name: "broken", startErr: errors.New("no X")})
	if err := r.Start(); !errors.Is(err, ErrNoDisplay) {
		t.Fatalf("expected ErrNoDisplay, got %v", err)
	}
}

func writeFixturePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 8))
	img.Set(3, 3, color.RGBA{R: 255, A: 255})
	path := filepath.Join(dir, "fixture.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func toolFunc(tool config.InteractiveTool) ToolFunc {
	return func() config.InteractiveTool { return tool }
}

func TestInteractiveProducesImage(t *testing.T) {
	fixture := writeFixturePNG(t, t.TempDir())
	tmp := t.TempDir()

	s := NewSelection(toolFunc(config.InteractiveTool{
		Command:    "sh",
		RegionArgs: []string{"-c", `cp "$1" "$2"`, "sh", fixture, config.OutputPlaceholder},
	}))
	s.TempDir = tmp

	req := NewRequest(KindSelection)
	out := s.Capture(context.Background(), req)
	if out.Status != StatusImage {
		t.Fatalf("expected image, got %v (%v)", out.Status, out.Err)
	}
	if got := out.Image.Bounds().Size(); got != image.Pt(12, 8) {
		t.Fatalf("unexpected size %v", got)
	}
	if !out.Source.Empty() {
		t.Fatalf("interactive captures have no source rect, got %v", out.Source)
	}
	if _, err := os.Stat(s.TempPath(req)); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be removed, stat err = %v", err)
	}
}

func TestInteractiveAppendsOutputWithoutPlaceholder(t *testing.T) {
	fixture := writeFixturePNG(t, t.TempDir())

	s := NewWindow(toolFunc(config.InteractiveTool{
		Command:    "cp",
		WindowArgs: []string{fixture},
	}))
	s.TempDir = t.TempDir()

	out := s.Capture(context.Background(), NewRequest(KindWindow))
	if out.Status != StatusImage {
		t.Fatalf("expected image, got %v (%v)", out.Status, out.Err)
	}
}

func TestInteractiveCancelled(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"exit zero without file", []string{"-c", "exit 0"}},
		{"exit non-zero without file", []string{"-c", "exit 1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelection(toolFunc(config.InteractiveTool{Command: "sh", RegionArgs: tt.args}))
			s.TempDir = t.TempDir()

			out := s.Capture(context.Background(), NewRequest(KindSelection))
			if out.Status != StatusCancelled {
				t.Fatalf("expected cancelled, got %v (%v)", out.Status, out.Err)
			}
			if out.Err != nil {
				t.Fatalf("cancelled outcome must not carry an error: %v", out.Err)
			}
		})
	}
}

func TestInteractiveLaunchFailure(t *testing.T) {
	s := NewSelection(toolFunc(config.InteractiveTool{Command: "/nonexistent/screencap-tool"}))
	s.TempDir = t.TempDir()

	out := s.Capture(context.Background(), NewRequest(KindSelection))
	if out.Status != StatusFailed || !errors.Is(out.Err, ErrProcessLaunch) {
		t.Fatalf("expected launch failure, got %v (%v)", out.Status, out.Err)
	}
}

func TestInteractiveUnreadableOutput(t *testing.T) {
	s := NewSelection(toolFunc(config.InteractiveTool{
		Command:    "sh",
		RegionArgs: []string{"-c", `echo garbage > "$1"`, "sh", config.OutputPlaceholder},
	}))
	s.TempDir = t.TempDir()

	out := s.Capture(context.Background(), NewRequest(KindSelection))
	if out.Status != StatusFailed || !errors.Is(out.Err, ErrCaptureFailed) {
		t.Fatalf("expected capture failure, got %v (%v)", out.Status, out.Err)
	}
}

func TestInteractiveConcurrentRequestsUseDistinctFiles(t *testing.T) {
	fixture := writeFixturePNG(t, t.TempDir())
	tmp := t.TempDir()

	s := NewSelection(toolFunc(config.InteractiveTool{
		Command:    "sh",
		RegionArgs: []string{"-c", `sleep 0.05; cp "$1" "$2"`, "sh", fixture, config.OutputPlaceholder},
	}))
	s.TempDir = tmp

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 4)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = s.Capture(context.Background(), NewRequest(KindSelection))
		}(i)
	}
	wg.Wait()

	for i, out := range outcomes {
		if out.Status != StatusImage {
			t.Fatalf("request %d: expected image, got %v (%v)", i, out.Status, out.Err)
		}
	}
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected all temp files cleaned up, found %d", len(entries))
	}
}

func TestInteractiveContextCancelKillsTool(t *testing.T) {
	s := NewSelection(toolFunc(config.InteractiveTool{
		Command:    "sh",
		RegionArgs: []string{"-c", "exec sleep 30", config.OutputPlaceholder},
	}))
	s.TempDir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	out := s.Capture(ctx, NewRequest(KindSelection))
	if out.Status != StatusFailed || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("expected cancellation failure, got %v (%v)", out.Status, out.Err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("tool was not killed on cancellation")
	}
}

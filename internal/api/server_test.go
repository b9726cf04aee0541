package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/capture"
	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/notify"
	"github.com/bryanchriswhite/ScreenCap/internal/orchestrator"
	"github.com/bryanchriswhite/ScreenCap/internal/permission"
	"github.com/bryanchriswhite/ScreenCap/internal/preview"
	"github.com/gorilla/websocket"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

type fakeCapturer struct {
	mu    sync.Mutex
	kinds []capture.Kind
	subs  []func(orchestrator.Result)
}

func (f *fakeCapturer) Capture(kind capture.Kind) capture.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	return capture.NewRequest(kind)
}

func (f *fakeCapturer) Subscribe(fn func(orchestrator.Result)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
	return func() {}
}

func (f *fakeCapturer) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeCapturer) emit(res orchestrator.Result) {
	f.mu.Lock()
	subs := append([]func(orchestrator.Result){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(res)
	}
}

type fakePreviews struct {
	infos   []preview.Info
	closed  []string
	dropped []preview.DropOp
}

func (f *fakePreviews) find(id string) error {
	for _, info := range f.infos {
		if info.ID == id {
			if info.State == preview.StateClosed {
				return preview.ErrClosed
			}
			return nil
		}
	}
	return preview.ErrNotFound
}

func (f *fakePreviews) List() []preview.Info { return f.infos }

func (f *fakePreviews) Close(id string) error {
	if err := f.find(id); err != nil {
		return err
	}
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakePreviews) Interact(id string) error { return f.find(id) }

func (f *fakePreviews) Export(id string) (preview.Export, error) {
	if err := f.find(id); err != nil {
		return preview.Export{}, err
	}
	return preview.Export{PNG: []byte{1, 2, 3}, Path: "/tmp/screencap-drag-1.png"}, nil
}

func (f *fakePreviews) Drop(id string, op preview.DropOp) error {
	if err := f.find(id); err != nil {
		return err
	}
	f.dropped = append(f.dropped, op)
	return nil
}

func (f *fakePreviews) Subscribe(fn func(preview.Info)) func() { return func() {} }

type fakeGate struct {
	state   permission.State
	timeout time.Duration
}

func (g *fakeGate) Check(ctx context.Context, timeout time.Duration) permission.State {
	g.timeout = timeout
	return g.state
}

type fixture struct {
	server   *Server
	capturer *fakeCapturer
	settings *config.Manager
	previews *fakePreviews
	gate     *fakeGate
	messages *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	f := &fixture{
		capturer: &fakeCapturer{},
		settings: mgr,
		previews: &fakePreviews{infos: []preview.Info{
			{ID: "open", State: preview.StateVisible},
			{ID: "gone", State: preview.StateClosed},
		}},
		gate:     &fakeGate{state: permission.StateGranted},
		messages: notify.NewRecorder(),
	}
	f.server = NewServer(Options{
		Capturer:   f.capturer,
		Settings:   f.settings,
		Previews:   f.previews,
		Permission: f.gate,
		Messages:   f.messages,
	})
	return f
}

const localHost = "127.0.0.1:7878"

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.doFrom(t, "", method, path, body)
}

// doFrom sends the request as a browser page at origin would.
func (f *fixture) doFrom(t *testing.T, origin, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Host = localHost
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestCaptureEndpoint(t *testing.T) {
	tests := []struct {
		path     string
		wantCode int
		wantKind capture.Kind
	}{
		{"/api/capture/full", http.StatusAccepted, capture.KindFullScreen},
		{"/api/capture/selection", http.StatusAccepted, capture.KindSelection},
		{"/api/capture/window", http.StatusAccepted, capture.KindWindow},
		{"/api/capture/video", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, tt.path, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusAccepted {
				if len(f.capturer.kinds) != 0 {
					t.Fatal("bad request should not start a capture")
				}
				return
			}

			var body map[string]string
			decode(t, rec, &body)
			if body["id"] == "" || body["kind"] != tt.wantKind.String() {
				t.Fatalf("body = %v", body)
			}
			if len(f.capturer.kinds) != 1 || f.capturer.kinds[0] != tt.wantKind {
				t.Fatalf("captured kinds = %v", f.capturer.kinds)
			}
		})
	}
}

func TestWrongMethodIsNotAllowed(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/capture/full"},
		{http.MethodGet, "/api/previews/open/close"},
		{http.MethodDelete, "/api/settings"},
		{http.MethodPost, "/api/health"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, tt.method, tt.path, "")
			if rec.Code != http.StatusMethodNotAllowed {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
			}
			if len(f.capturer.kinds) != 0 || len(f.previews.closed) != 0 {
				t.Fatal("wrong method reached a handler")
			}
		})
	}
}

func TestSettingsEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/settings/prefix", `{"value":"Shot"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d (%s)", rec.Code, rec.Body.String())
	}
	if got := f.settings.Snapshot().Prefix; got != "Shot" {
		t.Fatalf("prefix = %q, want Shot", got)
	}

	rec = f.do(t, http.MethodGet, "/api/settings/prefix", "")
	var kv map[string]string
	decode(t, rec, &kv)
	if kv["value"] != "Shot" {
		t.Fatalf("get = %v", kv)
	}

	rec = f.do(t, http.MethodPut, "/api/settings/image_format", `{"value":"gif"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid format status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/settings/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown key status = %d, want 404", rec.Code)
	}
}

func TestUpdateSettingsKeepsOmittedKeys(t *testing.T) {
	f := newFixture(t)
	before := f.settings.Snapshot()

	rec := f.do(t, http.MethodPut, "/api/settings", `{"include_timestamp":true,"image_format":"jpg"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}

	after := f.settings.Snapshot()
	if !after.IncludeTimestamp || after.ImageFormat != "jpg" {
		t.Fatalf("settings not updated: %+v", after)
	}
	if after.Prefix != before.Prefix || after.SaveDirectory != before.SaveDirectory {
		t.Fatalf("omitted keys changed: %+v", after)
	}

	rec = f.do(t, http.MethodPut, "/api/settings", `{"prefix":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty prefix status = %d, want 400", rec.Code)
	}
}

func TestPreviewEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/previews", "")
	var infos []preview.Info
	decode(t, rec, &infos)
	if len(infos) != 2 {
		t.Fatalf("listed %d previews, want 2", len(infos))
	}

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"close open", "/api/previews/open/close", "", http.StatusOK},
		{"close closed", "/api/previews/gone/close", "", http.StatusConflict},
		{"close missing", "/api/previews/missing/close", "", http.StatusNotFound},
		{"interact", "/api/previews/open/interact", "", http.StatusOK},
		{"export", "/api/previews/open/export", "", http.StatusOK},
		{"drop copy", "/api/previews/open/drop", `{"op":"copy"}`, http.StatusOK},
		{"drop none", "/api/previews/open/drop", `{"op":"none"}`, http.StatusOK},
		{"drop bad op", "/api/previews/open/drop", `{"op":"move"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	if len(f.previews.closed) != 1 || f.previews.closed[0] != "open" {
		t.Fatalf("closed = %v", f.previews.closed)
	}
	if len(f.previews.dropped) != 2 || f.previews.dropped[0] != preview.DropCopy || f.previews.dropped[1] != preview.DropNone {
		t.Fatalf("dropped = %v", f.previews.dropped)
	}
}

func TestPermissionEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/permission", "")
	var body map[string]string
	decode(t, rec, &body)
	if body["state"] != string(permission.StateGranted) || body["instructions"] != "" {
		t.Fatalf("granted body = %v", body)
	}
	if f.gate.timeout != f.settings.Snapshot().PermissionWait() {
		t.Fatalf("checked with timeout %v", f.gate.timeout)
	}

	f.gate.state = permission.StateTimedOut
	rec = f.do(t, http.MethodGet, "/api/permission", "")
	body = nil
	decode(t, rec, &body)
	if body["state"] != string(permission.StateTimedOut) || !strings.Contains(body["instructions"], "too long") {
		t.Fatalf("timed out body = %v", body)
	}
}

func TestHealthAndIndex(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/health", "")
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "healthy" || body["version"] != Version {
		t.Fatalf("health = %v", body)
	}

	if rec := f.do(t, http.MethodGet, "/", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ScreenCap") {
		t.Fatalf("index status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", rec.Code)
	}
}

func TestRejectsForeignOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		method string
		path   string
		body   string
	}{
		{"preflight", "https://evil.example", http.MethodOptions, "/api/settings", ""},
		{"capture", "https://evil.example", http.MethodPost, "/api/capture/full", ""},
		{"settings write", "https://evil.example", http.MethodPut, "/api/settings/prefix", `{"value":"Owned"}`},
		{"other local port", "http://127.0.0.1:9999", http.MethodPost, "/api/capture/full", ""},
		{"null origin", "null", http.MethodPost, "/api/capture/full", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.settings.Snapshot().Prefix

			rec := f.doFrom(t, tt.origin, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403 (%s)", rec.Code, rec.Body.String())
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
				t.Fatalf("Access-Control-Allow-Origin = %q, want none", got)
			}
			if len(f.capturer.kinds) != 0 {
				t.Fatal("foreign request started a capture")
			}
			if got := f.settings.Snapshot().Prefix; got != before {
				t.Fatalf("prefix = %q, want %q", got, before)
			}
		})
	}
}

func TestAcceptsSameOrigin(t *testing.T) {
	f := newFixture(t)
	rec := f.doFrom(t, "http://"+localHost, http.MethodPost, "/api/capture/full", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
}

func TestRejectsForeignHost(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/capture/full", nil)
	req.Host = "attacker.example:7878"
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(f.capturer.kinds) != 0 {
		t.Fatal("request for a foreign host started a capture")
	}
}

func TestProtectedSettingsAreReadOnly(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"tool command", "/api/settings/interactive_tool.command", `{"value":"/bin/sh"}`},
		{"save directory", "/api/settings/save_directory", `{"value":"/tmp/elsewhere"}`},
		{"bulk tool", "/api/settings", `{"interactive_tool":{"command":"/bin/sh","region_args":["-c","id"]}}`},
		{"bulk directory", "/api/settings", `{"save_directory":"/tmp/elsewhere"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.settings.Snapshot()

			rec := f.do(t, http.MethodPut, tt.path, tt.body)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403 (%s)", rec.Code, rec.Body.String())
			}

			after := f.settings.Snapshot()
			if after.SaveDirectory != before.SaveDirectory || after.InteractiveTool.Command != before.InteractiveTool.Command {
				t.Fatalf("protected settings changed: %+v", after)
			}
		})
	}

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/settings/interactive_tool.command", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reading a protected key status = %d, want 200", rec.Code)
	}
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		t.Fatal("Dial() from a foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Dial() response = %v, want 403", resp)
	}
	if f.capturer.subscribers() != 0 {
		t.Fatal("foreign client was subscribed")
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.capturer.subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event stream never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	f.capturer.emit(orchestrator.Result{
		Request: capture.NewRequest(capture.KindSelection),
		Status:  orchestrator.StatusCancelled,
	})
	f.messages.NotifyError("Failed to save screenshot: disk full")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first struct {
		Type string              `json:"type"`
		Data orchestrator.Result `json:"data"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if first.Type != EventCapture || first.Data.Status != orchestrator.StatusCancelled {
		t.Fatalf("first event = %+v", first)
	}

	var second struct {
		Type string         `json:"type"`
		Data notify.Message `json:"data"`
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if second.Type != EventNotification || second.Data.Level != notify.LevelError {
		t.Fatalf("second event = %+v", second)
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	s := NewServer(Options{})
	if err := s.Shutdown(context.Background()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/capture"
	"github.com/bryanchriswhite/ScreenCap/internal/config"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
	"github.com/bryanchriswhite/ScreenCap/internal/notify"
	"github.com/bryanchriswhite/ScreenCap/internal/orchestrator"
	"github.com/bryanchriswhite/ScreenCap/internal/permission"
	"github.com/bryanchriswhite/ScreenCap/internal/preview"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Capturer starts capture requests and reports their results.
type Capturer interface {
	Capture(kind capture.Kind) capture.Request
	Subscribe(fn func(orchestrator.Result)) func()
}

// SettingsStore reads and changes the persisted settings.
type SettingsStore interface {
	Snapshot() config.Settings
	Update(s config.Settings) error
	Set(key, value string) error
	Value(key string) (string, error)
}

// Previews exposes the open preview sessions.
type Previews interface {
	List() []preview.Info
	Close(id string) error
	Interact(id string) error
	Export(id string) (preview.Export, error)
	Drop(id string, op preview.DropOp) error
	Subscribe(fn func(preview.Info)) func()
}

// PermissionChecker runs a permission check.
type PermissionChecker interface {
	Check(ctx context.Context, timeout time.Duration) permission.State
}

// Messages publishes user notifications.
type Messages interface {
	Subscribe(fn func(notify.Message)) func()
}

// Options wires the server's collaborators. Previews, Permission and
// Messages may be nil.
type Options struct {
	Capturer   Capturer
	Settings   SettingsStore
	Previews   Previews
	Permission PermissionChecker
	Messages   Messages
}

// Event is one message on the event stream.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	EventCapture      = "capture"
	EventPreview      = "preview"
	EventNotification = "notification"
)

// Server represents the HTTP control API
type Server struct {
	router   *mux.Router
	opts     Options
	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Captures
	api.HandleFunc("/capture/{kind}", s.handleCapture).Methods("POST")

	// Settings
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PUT")
	api.HandleFunc("/settings/{key}", s.handleGetSetting).Methods("GET")
	api.HandleFunc("/settings/{key}", s.handleSetSetting).Methods("PUT")

	// Previews
	api.HandleFunc("/previews", s.handleListPreviews).Methods("GET")
	api.HandleFunc("/previews/{id}/close", s.handlePreviewClose).Methods("POST")
	api.HandleFunc("/previews/{id}/interact", s.handlePreviewInteract).Methods("POST")
	api.HandleFunc("/previews/{id}/export", s.handlePreviewExport).Methods("POST")
	api.HandleFunc("/previews/{id}/drop", s.handlePreviewDrop).Methods("POST")

	// Status
	api.HandleFunc("/permission", s.handlePermission).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Event stream
	api.HandleFunc("/events", s.handleEvents)

	s.router.Path("/").HandlerFunc(s.handleIndex)
}

// Handler returns the routed handler restricted to local callers.
func (s *Server) Handler() http.Handler {
	return s.localOnly(s.router)
}

// Start serves on port until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", "http://"+addr).
		Msg("Starting control API")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

var (
	errForeignOrigin = errors.New("request must come from this machine")
	errProtectedKey  = errors.New("setting can only be changed in the config file")
)

// loopbackHost reports whether hostport names this machine.
func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// sameOrigin accepts requests without an Origin header and browser
// requests whose page was served by this server on a loopback address.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return loopbackHost(u.Host) && strings.EqualFold(u.Host, r.Host)
}

// localOnly rejects requests addressed to a non-loopback host name or
// sent from another origin. No CORS headers are ever emitted, so
// preflights from other sites fail too.
func (s *Server) localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !loopbackHost(r.Host) || !sameOrigin(r) {
			logger.WithComponent("api").Warn().
				Str("host", r.Host).
				Str("origin", r.Header.Get("Origin")).
				Str("path", r.URL.Path).
				Msg("Rejected non-local request")
			writeError(w, http.StatusForbidden, errForeignOrigin)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// protectedKey reports whether key controls what gets executed or
// where files are written.
func protectedKey(key string) bool {
	return key == "save_directory" || strings.HasPrefix(key, "interactive_tool")
}

func sameTool(a, b config.InteractiveTool) bool {
	return a.Command == b.Command &&
		slices.Equal(a.RegionArgs, b.RegionArgs) &&
		slices.Equal(a.WindowArgs, b.WindowArgs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	kind, err := capture.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := s.opts.Capturer.Capture(kind)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":   req.ID,
		"kind": req.Kind.String(),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Settings.Snapshot())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	// decode on top of the current settings so partial bodies keep other keys
	current := s.opts.Settings.Snapshot()
	settings := s.opts.Settings.Snapshot()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if settings.SaveDirectory != current.SaveDirectory || !sameTool(settings.InteractiveTool, current.InteractiveTool) {
		writeError(w, http.StatusForbidden, errProtectedKey)
		return
	}

	if err := s.opts.Settings.Update(settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, s.opts.Settings.Snapshot())
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, err := s.opts.Settings.Value(key)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if protectedKey(key) {
		writeError(w, http.StatusForbidden, fmt.Errorf("%s: %w", key, errProtectedKey))
		return
	}

	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.opts.Settings.Set(key, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	value, _ := s.opts.Settings.Value(key)
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleListPreviews(w http.ResponseWriter, r *http.Request) {
	infos := []preview.Info{}
	if s.opts.Previews != nil {
		infos = append(infos, s.opts.Previews.List()...)
	}
	writeJSON(w, http.StatusOK, infos)
}

func previewStatus(err error) int {
	switch {
	case errors.Is(err, preview.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, preview.ErrClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) previewAction(w http.ResponseWriter, r *http.Request, action func(id string) error) {
	if s.opts.Previews == nil {
		writeError(w, http.StatusNotFound, preview.ErrNotFound)
		return
	}

	if err := action(mux.Vars(r)["id"]); err != nil {
		writeError(w, previewStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handlePreviewClose(w http.ResponseWriter, r *http.Request) {
	s.previewAction(w, r, func(id string) error { return s.opts.Previews.Close(id) })
}

func (s *Server) handlePreviewInteract(w http.ResponseWriter, r *http.Request) {
	s.previewAction(w, r, func(id string) error { return s.opts.Previews.Interact(id) })
}

func (s *Server) handlePreviewExport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Previews == nil {
		writeError(w, http.StatusNotFound, preview.ErrNotFound)
		return
	}

	export, err := s.opts.Previews.Export(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, previewStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":  export.Path,
		"bytes": len(export.PNG),
	})
}

func (s *Server) handlePreviewDrop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Op string `json:"op"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var op preview.DropOp
	switch strings.ToLower(req.Op) {
	case "copy":
		op = preview.DropCopy
	case "", "none", "cancel":
		op = preview.DropNone
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown drop op %q (expected copy or none)", req.Op))
		return
	}

	s.previewAction(w, r, func(id string) error { return s.opts.Previews.Drop(id, op) })
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	if s.opts.Permission == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no permission gate configured"))
		return
	}

	state := s.opts.Permission.Check(r.Context(), s.opts.Settings.Snapshot().PermissionWait())
	body := map[string]string{"state": string(state)}
	if !state.Granted() {
		body["instructions"] = permission.Instructions(state)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// handleEvents streams capture results, preview transitions and
// notifications over a websocket until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	events := make(chan Event, 64)
	// publishers run on the event loop; a slow client loses events rather
	// than stalling it
	push := func(e Event) {
		select {
		case events <- e:
		default:
			log.Debug().Str("type", e.Type).Msg("Dropping event for slow client")
		}
	}

	var unsubs []func()
	if s.opts.Messages != nil {
		unsubs = append(unsubs, s.opts.Messages.Subscribe(func(m notify.Message) {
			push(Event{Type: EventNotification, Data: m})
		}))
	}
	if s.opts.Previews != nil {
		unsubs = append(unsubs, s.opts.Previews.Subscribe(func(info preview.Info) {
			push(Event{Type: EventPreview, Data: info})
		}))
	}
	unsubs = append(unsubs, s.opts.Capturer.Subscribe(func(res orchestrator.Result) {
		push(Event{Type: EventCapture, Data: res})
	}))
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	// reads detect the client closing the connection
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := conn.WriteJSON(e); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>ScreenCap</title>
    <style>
        body { font-family: sans-serif; max-width: 720px; margin: 50px auto; color: #333; }
        code { background: #f5f5f5; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>ScreenCap</h1>
    <p>The capture daemon is running.</p>
    <ul>
        <li><code>POST /api/capture/{full|selection|window}</code></li>
        <li><code>GET /api/settings</code>, <code>PUT /api/settings/{key}</code></li>
        <li><code>GET /api/previews</code></li>
        <li><code>GET /api/permission</code></li>
        <li><code>GET /api/events</code> (websocket)</li>
    </ul>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

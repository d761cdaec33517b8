package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/mapty/pkg/app"
	"github.com/NERVsystems/mapty/pkg/core"
	"github.com/NERVsystems/mapty/pkg/geo"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/monitoring"
	"github.com/NERVsystems/mapty/pkg/render"
	"github.com/NERVsystems/mapty/pkg/version"
	"github.com/NERVsystems/mapty/pkg/workout"
)

//go:embed static
var staticFiles embed.FS

var pageTmpl = template.Must(template.ParseFS(staticFiles, "static/index.html"))

// WebConfig holds configuration for the browser and JSON transport.
type WebConfig struct {
	Addr           string   `json:"addr"`
	RateLimit      float64  `json:"rate_limit"`       // API requests per second per IP (0 = disabled)
	RateBurst      int      `json:"rate_burst"`       // burst size for the rate limiter
	MaxRequestSize int64    `json:"max_request_size"` // request body limit in bytes
	MaxHeaderBytes int      `json:"max_header_bytes"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	MCPEndpoint    string   `json:"mcp_endpoint"` // streamable HTTP MCP path, "" disables
	ImageHosts     []string `json:"image_hosts"`  // tile hosts the page may load directly
}

// DefaultWebConfig returns sensible defaults
func DefaultWebConfig() WebConfig {
	return WebConfig{
		Addr:           ":8080",
		RateLimit:      10,
		RateBurst:      20,
		MaxRequestSize: 1 << 20,
		MaxHeaderBytes: 1 << 20,
		MCPEndpoint:    "/mcp",
	}
}

// WebDeps are the collaborators served by a WebTransport. App, Scene and
// Hub are required.
type WebDeps struct {
	App    *app.App
	Scene  *mapview.Scene
	Hub    *Hub
	Tiles  http.Handler              // optional tile proxy
	MCP    *mcpserver.MCPServer      // optional, mounted at MCPEndpoint
	Health *monitoring.HealthChecker // optional
}

// WebTransport serves the page, the websocket hub, the JSON API, the tile
// proxy and the health endpoints on one listener.
type WebTransport struct {
	config      WebConfig
	logger      *slog.Logger
	app         *app.App
	scene       *mapview.Scene
	hub         *Hub
	tiles       http.Handler
	mcp         *mcpserver.StreamableHTTPServer
	health      *monitoring.HealthChecker
	mux         *http.ServeMux
	rateLimiter *RateLimiter
	httpSrv     *http.Server
	unsubscribe []func()
	mu          sync.Mutex
}

// NewWebTransport wires the hub to the controller and the map scene and
// registers every route.
func NewWebTransport(deps WebDeps, config WebConfig, logger *slog.Logger) *WebTransport {
	if logger == nil {
		logger = slog.Default()
	}

	t := &WebTransport{
		config: config,
		logger: logger.With("component", "web"),
		app:    deps.App,
		scene:  deps.Scene,
		hub:    deps.Hub,
		tiles:  deps.Tiles,
		health: deps.Health,
		mux:    http.NewServeMux(),
	}
	if deps.MCP != nil && config.MCPEndpoint != "" {
		t.mcp = mcpserver.NewStreamableHTTPServer(deps.MCP, mcpserver.WithEndpointPath(config.MCPEndpoint))
	}
	if config.RateLimit > 0 {
		t.rateLimiter = NewRateLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	t.hub.SetHandler(t.handleSocketMessage, t.sendState)
	t.unsubscribe = append(t.unsubscribe,
		t.scene.Subscribe(func(cmd mapview.Command) { t.hub.Broadcast(MsgMap, cmd) }),
		t.app.Subscribe(func(u app.Update) { t.hub.Broadcast(u.Type, u) }),
	)

	t.setupRoutes()
	return t
}

func (t *WebTransport) setupRoutes() {
	static, _ := fs.Sub(staticFiles, "static")

	t.mux.HandleFunc("GET /{$}", t.handlePage)
	t.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
	t.mux.HandleFunc("GET /ws", t.hub.ServeWS)

	t.mux.Handle("GET /api/workouts", t.limit(t.handleListWorkouts))
	t.mux.Handle("POST /api/workouts", t.limit(t.handleLogWorkout))
	t.mux.Handle("POST /api/workouts/{id}/select", t.limit(t.handleSelectWorkout))
	t.mux.Handle("POST /api/map/click", t.limit(t.handleMapClick))
	t.mux.Handle("GET /api/map", t.limit(t.handleMapState))
	t.mux.Handle("GET /api/form", t.limit(t.handleFormState))
	t.mux.Handle("POST /api/form/type", t.limit(t.handleFormType))

	if t.tiles != nil {
		t.mux.Handle("GET /tiles/{z}/{x}/{y}", t.tiles)
	}
	if t.mcp != nil {
		t.mux.Handle(t.config.MCPEndpoint, t.limit(t.mcp.ServeHTTP))
	}

	t.mux.HandleFunc("GET /health", t.handleHealth)
	t.mux.HandleFunc("GET /ready", t.handleReady)
	t.mux.HandleFunc("GET /live", t.handleLive)
}

// limit applies the per-IP rate limiter when one is configured.
func (t *WebTransport) limit(h http.HandlerFunc) http.Handler {
	if t.rateLimiter == nil {
		return h
	}
	return t.rateLimiter.Middleware(h)
}

// Handler returns the mux wrapped in the middleware chain.
func (t *WebTransport) Handler() http.Handler {
	handler := http.Handler(t.mux)
	handler = LoggingMiddleware(t.logger)(handler)
	handler = TracingMiddleware()(handler)
	handler = SecurityHeaders(t.config.ImageHosts...)(handler)
	handler = RequestSizeLimiter(t.config.MaxRequestSize)(handler)
	return handler
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (t *WebTransport) Start() error {
	t.mu.Lock()
	if t.httpSrv != nil {
		t.mu.Unlock()
		return core.NewError(core.ErrInternalError, "web transport already started").
			WithGuidance("Stop the transport before starting it again.")
	}

	// No WriteTimeout: websocket and MCP streams are long-lived.
	t.httpSrv = &http.Server{
		Addr:              t.config.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    t.config.MaxHeaderBytes,
	}
	srv := t.httpSrv
	t.mu.Unlock()

	tlsEnabled := t.config.TLSCertFile != "" && t.config.TLSKeyFile != ""
	t.logger.Info("starting web transport",
		"addr", t.config.Addr,
		"mcp_endpoint", t.config.MCPEndpoint,
		"tiles", t.tiles != nil,
		"tls_enabled", tlsEnabled)

	if tlsEnabled {
		return srv.ListenAndServeTLS(t.config.TLSCertFile, t.config.TLSKeyFile)
	}
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the listener and detaches from the
// controller.
func (t *WebTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, unsub := range t.unsubscribe {
		unsub()
	}
	t.unsubscribe = nil
	if t.rateLimiter != nil {
		t.rateLimiter.Stop()
	}
	if t.mcp != nil {
		if err := t.mcp.Shutdown(ctx); err != nil {
			t.logger.Error("failed to shutdown MCP endpoint", "error", err)
		}
	}
	if t.httpSrv == nil {
		return nil
	}

	t.logger.Info("shutting down web transport")
	err := t.httpSrv.Shutdown(ctx)
	t.httpSrv = nil
	return err
}

type pageView struct {
	Version string
	Form    app.FormState
	Items   []template.HTML
	Kinds   []workout.Kind
	MapOK   bool
}

func (t *WebTransport) handlePage(w http.ResponseWriter, r *http.Request) {
	items, err := t.app.ListItems()
	if err != nil {
		t.logger.Error("failed to render workout list", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	view := pageView{
		Version: version.BuildVersion,
		Form:    t.app.FormState(),
		Items:   items,
		Kinds:   workout.Kinds,
		MapOK:   t.app.MapReady(),
	}
	if err := pageTmpl.Execute(w, view); err != nil {
		t.logger.Error("failed to render page", "error", err)
	}
}

// stateView is the snapshot a browser needs to rebuild its view.
type stateView struct {
	Form  app.FormState     `json:"form"`
	Items []template.HTML   `json:"items"`
	Map   []mapview.Command `json:"map"`
	Types []workout.Kind    `json:"types"`
	Rows  map[string]string `json:"rows"`
}

func (t *WebTransport) snapshot() (stateView, error) {
	items, err := t.app.ListItems()
	if err != nil {
		return stateView{}, err
	}
	rows := make(map[string]string, len(workout.Kinds))
	for _, k := range workout.Kinds {
		rows[string(k)] = workout.ExtraField(k)
	}
	return stateView{
		Form:  t.app.FormState(),
		Items: items,
		Map:   t.scene.Replay(),
		Types: workout.Kinds,
		Rows:  rows,
	}, nil
}

func (t *WebTransport) sendState(c *Client) {
	st, err := t.snapshot()
	if err != nil {
		t.logger.Error("failed to build state snapshot", "client", c.ID(), "error", err)
		return
	}
	c.Send(MsgState, st)
}

type listResponse struct {
	Workouts []*workout.Workout `json:"workouts"`
	Items    []template.HTML    `json:"items"`
}

func (t *WebTransport) handleListWorkouts(w http.ResponseWriter, r *http.Request) {
	items, err := t.app.ListItems()
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	ws := t.app.Workouts()
	if ws == nil {
		ws = []*workout.Workout{}
	}
	writeJSON(w, http.StatusOK, listResponse{Workouts: ws, Items: items})
}

type logResponse struct {
	Workout *workout.Workout `json:"workout"`
	Item    template.HTML    `json:"item"`
	Warning string           `json:"warning,omitempty"`
}

func (t *WebTransport) logWorkout(ctx context.Context, values app.FormValues) (logResponse, error) {
	w, err := t.app.Submit(ctx, values)
	if w == nil {
		return logResponse{}, err
	}

	resp := logResponse{Workout: w}
	if err != nil {
		t.logger.Error("workout logged but not persisted", "id", w.ID, "error", err)
		resp.Warning = "workout logged but could not be saved"
	}
	item, rerr := render.ListItem(w)
	if rerr != nil {
		return logResponse{}, rerr
	}
	resp.Item = item
	return resp, nil
}

func (t *WebTransport) handleLogWorkout(w http.ResponseWriter, r *http.Request) {
	var values app.FormValues
	if err := decodeJSON(r, &values); err != nil {
		writeMCPError(w, err)
		return
	}
	resp, err := t.logWorkout(r.Context(), values)
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (t *WebTransport) handleSelectWorkout(w http.ResponseWriter, r *http.Request) {
	wk, err := t.app.SelectExistingWorkout(r.PathValue("id"))
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wk)
}

type clickRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (c clickRequest) location() (geo.Location, error) {
	if c.Lat == nil {
		return geo.Location{}, core.NewValidationError(core.ErrMissingParameter, "lat is required").WithField("lat")
	}
	if c.Lng == nil {
		return geo.Location{}, core.NewValidationError(core.ErrMissingParameter, "lng is required").WithField("lng")
	}
	if err := core.ValidateCoords(*c.Lat, *c.Lng); err != nil {
		return geo.Location{}, err
	}
	return geo.NewLocation(*c.Lat, *c.Lng), nil
}

// click raises a map click event, the same path a click in the browser
// takes.
func (t *WebTransport) click(req clickRequest) (app.FormState, error) {
	loc, err := req.location()
	if err != nil {
		return app.FormState{}, err
	}
	if !t.scene.Dispatch(mapview.Event{Type: mapview.EventClick, LatLng: loc}) {
		return app.FormState{}, app.ErrMapNotReady
	}
	return t.app.FormState(), nil
}

func (t *WebTransport) handleMapClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMCPError(w, err)
		return
	}
	fs, err := t.click(req)
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (t *WebTransport) handleMapState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.scene.Snapshot())
}

func (t *WebTransport) handleFormState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.app.FormState())
}

type typeRequest struct {
	Type string `json:"type"`
}

func (t *WebTransport) toggle(req typeRequest) (app.FormState, error) {
	kind, err := workout.ParseKind(req.Type)
	if err != nil {
		return app.FormState{}, core.NewValidationError(core.ErrInvalidType, err.Error()).WithField("type")
	}
	if err := t.app.ToggleInputFieldsForType(kind); err != nil {
		return app.FormState{}, err
	}
	return t.app.FormState(), nil
}

func (t *WebTransport) handleFormType(w http.ResponseWriter, r *http.Request) {
	var req typeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeMCPError(w, err)
		return
	}
	fs, err := t.toggle(req)
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

type selectRequest struct {
	ID string `json:"id"`
}

// handleSocketMessage dispatches browser actions to the controller.
// Successful actions need no reply: their effects reach every browser
// through the broadcast subscriptions.
func (t *WebTransport) handleSocketMessage(ctx context.Context, c *Client, msg Message) *Message {
	var err error
	switch msg.Type {
	case MsgClick:
		var req clickRequest
		if err = unmarshalData(msg.Data, &req); err == nil {
			_, err = t.click(req)
		}
	case MsgSubmit:
		var values app.FormValues
		if err = unmarshalData(msg.Data, &values); err == nil {
			_, err = t.logWorkout(ctx, values)
		}
	case MsgSelect:
		var req selectRequest
		if err = unmarshalData(msg.Data, &req); err == nil {
			_, err = t.app.SelectExistingWorkout(req.ID)
		}
	case MsgToggle:
		var req typeRequest
		if err = unmarshalData(msg.Data, &req); err == nil {
			_, err = t.toggle(req)
		}
	default:
		err = core.NewError(core.ErrInvalidInput, fmt.Sprintf("unknown message type %q", msg.Type))
	}
	if err == nil {
		return nil
	}

	me := app.AsMCPError(err)
	t.logger.Debug("socket request failed", "client", c.ID(), "type", msg.Type, "code", me.Code, "error", err)
	raw, _ := json.Marshal(me)
	return &Message{Type: MsgError, Data: raw}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return core.NewError(core.ErrMissingParameter, "message data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return core.NewError(core.ErrParseError, "malformed message data: "+err.Error())
	}
	return nil
}

func (t *WebTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if t.health != nil {
		t.health.HealthHandler()(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (t *WebTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if t.health != nil {
		t.health.ReadinessHandler()(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true, "status": "ok"})
}

func (t *WebTransport) handleLive(w http.ResponseWriter, r *http.Request) {
	if t.health != nil {
		t.health.LivenessHandler()(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alive": true})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.NewError(core.ErrInvalidInput, "request body too large")
		}
		return core.NewError(core.ErrParseError, "malformed JSON body: "+err.Error())
	}
	return nil
}

func (t *WebTransport) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	me := app.AsMCPError(err)
	if me.HTTPStatus() >= http.StatusInternalServerError {
		monitoring.RecordError("web", me.Code)
		t.logger.Error("request failed", "request_id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeMCPError(w, me)
}

func writeMCPError(w http.ResponseWriter, err error) {
	me := app.AsMCPError(err)
	writeJSON(w, me.HTTPStatus(), map[string]any{"error": me})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": core.MCPError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NERVsystems/mapty/pkg/app"
	"github.com/NERVsystems/mapty/pkg/geolocation"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/workout"
)

type webFixture struct {
	app   *app.App
	scene *mapview.Scene
	hub   *Hub
	web   *WebTransport
	srv   *httptest.Server
}

func newWebFixture(t *testing.T, locator geolocation.Locator, config WebConfig) *webFixture {
	t.Helper()
	hub := NewHub(discardLogger())
	a, scene := newTestApp(t, locator, hub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srvMCP, err := NewServer(a, scene, discardLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	tiles := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		io.WriteString(w, "tile "+r.PathValue("z")+"/"+r.PathValue("x")+"/"+r.PathValue("y"))
	})

	web := NewWebTransport(WebDeps{
		App:   a,
		Scene: scene,
		Hub:   hub,
		Tiles: tiles,
		MCP:   srvMCP.GetMCPServer(),
	}, config, discardLogger())
	srv := httptest.NewServer(web.Handler())

	t.Cleanup(func() {
		srv.Close()
		web.Shutdown(context.Background())
		cancel()
	})
	return &webFixture{app: a, scene: scene, hub: hub, web: web, srv: srv}
}

func noLimitConfig() WebConfig {
	cfg := DefaultWebConfig()
	cfg.RateLimit = 0
	return cfg
}

func (f *webFixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decoding error body %s: %v", body, err)
	}
	return resp.Error.Code
}

func TestPageRenders(t *testing.T) {
	f := newWebFixture(t, nil, noLimitConfig())

	resp, err := http.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	page := string(body)
	for _, want := range []string{`class="form hidden"`, `<option value="running" selected>Running</option>`, `<option value="cycling">Cycling</option>`} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %s", want)
		}
	}
	if strings.Contains(page, "location unavailable") {
		t.Error("page reports an unavailable location")
	}

	status, _ := f.do(t, "GET", "/static/app.js", "")
	if status != http.StatusOK {
		t.Errorf("static asset: expected 200, got %d", status)
	}
	status, _ = f.do(t, "GET", "/nope", "")
	if status != http.StatusNotFound {
		t.Errorf("unknown path: expected 404, got %d", status)
	}
}

func TestAPIWorkoutFlow(t *testing.T) {
	f := newWebFixture(t, nil, noLimitConfig())

	status, body := f.do(t, "POST", "/api/workouts", `{"distance":"5","duration":"25","cadence":"180"}`)
	if status != http.StatusConflict || errorCode(t, body) != "NO_PENDING_LOCATION" {
		t.Fatalf("submit before click: got %d %s", status, body)
	}

	status, body = f.do(t, "POST", "/api/map/click", `{"lat":52.53,"lng":13.41}`)
	if status != http.StatusOK {
		t.Fatalf("click: got %d %s", status, body)
	}
	var fs app.FormState
	if err := json.Unmarshal(body, &fs); err != nil {
		t.Fatal(err)
	}
	if !fs.Visible || fs.Pending == nil || fs.ExtraField != "cadence" {
		t.Fatalf("unexpected form state %+v", fs)
	}

	status, body = f.do(t, "POST", "/api/workouts", `{"distance":"5","duration":"-1","cadence":"180"}`)
	if status != http.StatusBadRequest || errorCode(t, body) != "INVALID_INPUT" {
		t.Fatalf("invalid submit: got %d %s", status, body)
	}
	if f.app.Mode() != app.Editing {
		t.Error("form closed after a rejected submit")
	}

	status, body = f.do(t, "POST", "/api/workouts", `{"distance":"5","duration":"25","cadence":"180"}`)
	if status != http.StatusCreated {
		t.Fatalf("submit: got %d %s", status, body)
	}
	var logged logResponse
	if err := json.Unmarshal(body, &logged); err != nil {
		t.Fatal(err)
	}
	if logged.Workout.Pace != 5 || logged.Workout.Type != workout.Running {
		t.Errorf("unexpected workout %+v", logged.Workout)
	}
	if !strings.Contains(string(logged.Item), "workout--running") {
		t.Errorf("unexpected list item %s", logged.Item)
	}
	if logged.Warning != "" {
		t.Errorf("unexpected warning %q", logged.Warning)
	}

	status, body = f.do(t, "GET", "/api/workouts", "")
	if status != http.StatusOK {
		t.Fatalf("list: got %d", status)
	}
	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Workouts) != 1 || len(list.Items) != 1 {
		t.Fatalf("expected one workout, got %s", body)
	}

	id := list.Workouts[0].ID
	status, _ = f.do(t, "POST", "/api/workouts/"+id+"/select", "")
	if status != http.StatusOK {
		t.Errorf("select: got %d", status)
	}
	status, body = f.do(t, "POST", "/api/workouts/unknown/select", "")
	if status != http.StatusNotFound || errorCode(t, body) != "NOT_FOUND" {
		t.Errorf("select unknown: got %d %s", status, body)
	}

	status, body = f.do(t, "GET", "/api/map", "")
	if status != http.StatusOK {
		t.Fatalf("map: got %d", status)
	}
	var st mapview.State
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if !st.Ready || len(st.Markers) != 1 {
		t.Errorf("unexpected map state %s", body)
	}
}

func TestAPIRequestErrors(t *testing.T) {
	f := newWebFixture(t, nil, noLimitConfig())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"latitude out of range", "POST", "/api/map/click", `{"lat":100,"lng":0}`, http.StatusBadRequest, "INVALID_LATITUDE"},
		{"missing lng", "POST", "/api/map/click", `{"lat":10}`, http.StatusBadRequest, "MISSING_PARAMETER"},
		{"malformed json", "POST", "/api/map/click", `{"lat":`, http.StatusBadRequest, "PARSE_ERROR"},
		{"unknown field", "POST", "/api/workouts", `{"distance":"5","speed":"9"}`, http.StatusBadRequest, "PARSE_ERROR"},
		{"unknown type", "POST", "/api/form/type", `{"type":"rowing"}`, http.StatusBadRequest, "INVALID_WORKOUT_TYPE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, tt.method, tt.path, tt.body)
			if status != tt.status {
				t.Errorf("status = %d, want %d (%s)", status, tt.status, body)
			}
			if code := errorCode(t, body); code != tt.code {
				t.Errorf("code = %s, want %s", code, tt.code)
			}
		})
	}
}

func TestAPIFormType(t *testing.T) {
	f := newWebFixture(t, nil, noLimitConfig())

	status, body := f.do(t, "POST", "/api/form/type", `{"type":"cycling"}`)
	if status != http.StatusOK {
		t.Fatalf("got %d %s", status, body)
	}
	status, body = f.do(t, "GET", "/api/form", "")
	if status != http.StatusOK {
		t.Fatalf("got %d", status)
	}
	var fs app.FormState
	if err := json.Unmarshal(body, &fs); err != nil {
		t.Fatal(err)
	}
	if fs.Type != workout.Cycling || fs.ExtraField != "elevation" {
		t.Errorf("unexpected form state %+v", fs)
	}
}

func TestAPIMapNotReady(t *testing.T) {
	f := newWebFixture(t, geolocation.Unavailable{}, noLimitConfig())

	status, body := f.do(t, "POST", "/api/map/click", `{"lat":52.53,"lng":13.41}`)
	if status != http.StatusConflict || errorCode(t, body) != "MAP_NOT_READY" {
		t.Errorf("click without map: got %d %s", status, body)
	}

	_, page := f.do(t, "GET", "/", "")
	if !bytes.Contains(page, []byte("location unavailable")) {
		t.Error("page does not report the unavailable location")
	}
}

func TestHealthEndpointsWithoutChecker(t *testing.T) {
	f := newWebFixture(t, nil, noLimitConfig())

	for _, path := range []string{"/health", "/ready", "/live"} {
		status, body := f.do(t, "GET", path, "")
		if status != http.StatusOK {
			t.Errorf("%s: got %d %s", path, status, body)
		}
	}
}

func TestTileRoute(t *testing.T) {
	f := newWebFixture(t, nil, noLimitConfig())

	status, body := f.do(t, "GET", "/tiles/13/4400/2686", "")
	if status != http.StatusOK {
		t.Fatalf("got %d", status)
	}
	if string(body) != "tile 13/4400/2686" {
		t.Errorf("unexpected tile body %q", body)
	}
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	cfg := DefaultWebConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	f := newWebFixture(t, nil, cfg)

	if status, _ := f.do(t, "GET", "/api/form", ""); status != http.StatusOK {
		t.Fatalf("first request: got %d", status)
	}
	status, body := f.do(t, "GET", "/api/form", "")
	if status != http.StatusTooManyRequests || errorCode(t, body) != "RATE_LIMIT" {
		t.Errorf("second request: got %d %s", status, body)
	}
	for i := 0; i < 3; i++ {
		if status, _ := f.do(t, "GET", "/tiles/1/1/1", ""); status != http.StatusOK {
			t.Errorf("tile request %d limited: %d", i, status)
		}
	}
}

func TestMCPEndpoint(t *testing.T) {
	f := newWebFixture(t, nil, noLimitConfig())

	init := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`
	status, body := f.do(t, "POST", "/mcp", init)
	if status != http.StatusOK {
		t.Fatalf("initialize: got %d %s", status, body)
	}
	if !strings.Contains(string(body), `"mapty"`) {
		t.Errorf("initialize result does not name the server: %s", body)
	}
}

// readTypes reads socket frames until a message of every given type has
// arrived. Replies and broadcasts travel separately, so their relative
// order is not fixed.
func readTypes(t *testing.T, conn *websocket.Conn, types ...string) map[string]Message {
	t.Helper()
	got := make(map[string]Message, len(types))
	want := make(map[string]bool, len(types))
	for _, typ := range types {
		want[typ] = true
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < len(want) {
		conn.SetReadDeadline(deadline)
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %v: %v", types, err)
		}
		for _, line := range bytes.Split(frame, newline) {
			var msg Message
			if err := json.Unmarshal(line, &msg); err != nil {
				t.Fatalf("malformed frame %q: %v", line, err)
			}
			if _, seen := got[msg.Type]; want[msg.Type] && !seen {
				got[msg.Type] = msg
			}
		}
	}
	return got
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) Message {
	t.Helper()
	return readTypes(t, conn, msgType)[msgType]
}

func TestWebSocketSession(t *testing.T) {
	f := newWebFixture(t, nil, noLimitConfig())

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readUntil(t, conn, MsgState)
	var st stateView
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Map) < 2 || st.Map[0].Op != mapview.OpCreateMap {
		t.Fatalf("state does not replay the map: %+v", st.Map)
	}
	if st.Rows["cycling"] != "elevation" {
		t.Errorf("unexpected rows %v", st.Rows)
	}

	send := func(msgType string, data any) {
		raw, _ := json.Marshal(data)
		if err := conn.WriteJSON(Message{Type: msgType, Data: raw}); err != nil {
			t.Fatalf("write %s: %v", msgType, err)
		}
	}

	send(MsgPing, nil)
	readUntil(t, conn, MsgPong)

	send(MsgClick, map[string]float64{"lat": 52.53, "lng": 13.41})
	msg = readUntil(t, conn, MsgForm)
	var u app.Update
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		t.Fatal(err)
	}
	if u.Form == nil || !u.Form.Visible {
		t.Fatalf("expected the form to open, got %s", msg.Data)
	}

	send(MsgSubmit, app.FormValues{Distance: "abc", Duration: "25", Cadence: "180"})
	msg = readTypes(t, conn, MsgAlert, MsgError)[MsgError]
	if !strings.Contains(string(msg.Data), "INVALID_INPUT") {
		t.Errorf("unexpected error reply %s", msg.Data)
	}

	send(MsgSubmit, app.FormValues{Distance: "5", Duration: "25", Cadence: "180"})
	msg = readUntil(t, conn, MsgWorkout)
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		t.Fatal(err)
	}
	if u.Workout == nil || u.Workout.Pace != 5 {
		t.Fatalf("unexpected workout broadcast %s", msg.Data)
	}
	if len(f.app.Workouts()) != 1 {
		t.Errorf("expected one workout, got %d", len(f.app.Workouts()))
	}

	send("dance", map[string]string{})
	msg = readUntil(t, conn, MsgError)
	if !strings.Contains(string(msg.Data), "unknown message type") {
		t.Errorf("unexpected error reply %s", msg.Data)
	}
}

func TestWebSocketDeliversStartupAlert(t *testing.T) {
	f := newWebFixture(t, geolocation.Unavailable{}, noLimitConfig())
	if f.app.MapReady() {
		t.Fatal("map should not be initialized without a location")
	}

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	got := readTypes(t, conn, MsgAlert, MsgState)
	var alert map[string]string
	if err := json.Unmarshal(got[MsgAlert].Data, &alert); err != nil {
		t.Fatal(err)
	}
	if alert["message"] != app.AlertNoLocation {
		t.Errorf("alert = %q, want %q", alert["message"], app.AlertNoLocation)
	}
}

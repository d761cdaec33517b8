package mapview

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/NERVsystems/mapty/pkg/geo"
)

// Command operations emitted by Scene.
const (
	OpCreateMap       = "createMap"
	OpAddTileLayer    = "addTileLayer"
	OpAddMarker       = "addMarker"
	OpBindPopup       = "bindPopup"
	OpSetPopupContent = "setPopupContent"
	OpOpenPopup       = "openPopup"
	OpSetView         = "setView"
)

// Command is one widget call, serialized for the browser.
type Command struct {
	Op          string        `json:"op"`
	Center      *geo.Location `json:"center,omitempty"`
	Zoom        int           `json:"zoom,omitempty"`
	URL         string        `json:"url,omitempty"`
	Attribution string        `json:"attribution,omitempty"`
	MarkerID    string        `json:"markerId,omitempty"`
	Popup       *PopupOptions `json:"popup,omitempty"`
	Content     string        `json:"content,omitempty"`
	View        *ViewOptions  `json:"view,omitempty"`
}

// TileLayer is an attached tile source.
type TileLayer struct {
	URL         string `json:"url"`
	Attribution string `json:"attribution"`
}

// MarkerState is the observable state of one marker.
type MarkerState struct {
	ID        string        `json:"id"`
	Coords    geo.Location  `json:"coords"`
	Popup     *PopupOptions `json:"popup,omitempty"`
	Content   string        `json:"content,omitempty"`
	PopupOpen bool          `json:"popupOpen"`
}

// State is a point-in-time copy of the scene.
type State struct {
	Ready      bool          `json:"ready"`
	Center     geo.Location  `json:"center"`
	Zoom       int           `json:"zoom"`
	TileLayers []TileLayer   `json:"tileLayers"`
	Markers    []MarkerState `json:"markers"`
}

// Scene is a Factory and Map backed by process memory. It is safe for
// concurrent use. Subscribers are called synchronously under the scene
// lock and must not call back into the scene.
type Scene struct {
	mu       sync.Mutex
	state    State
	markers  map[string]*sceneMarker
	order    []string
	handlers map[string][]Handler
	subs     map[int]func(Command)
	nextSub  int
	logger   *slog.Logger
}

// NewScene returns an uninitialized scene.
func NewScene(logger *slog.Logger) *Scene {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scene{
		markers:  make(map[string]*sceneMarker),
		handlers: make(map[string][]Handler),
		subs:     make(map[int]func(Command)),
		logger:   logger.With("component", "mapview"),
	}
}

// Subscribe registers fn for every future command. The returned function
// removes the subscription.
func (s *Scene) Subscribe(fn func(Command)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// emit must be called with s.mu held.
func (s *Scene) emit(cmd Command) {
	for _, fn := range s.subs {
		fn(cmd)
	}
}

// CreateMap resets the scene to a fresh map centered on center.
func (s *Scene) CreateMap(center geo.Location, zoom int) Map {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = State{Ready: true, Center: center, Zoom: zoom}
	s.markers = make(map[string]*sceneMarker)
	s.order = nil
	s.handlers = make(map[string][]Handler)

	c := center
	s.emit(Command{Op: OpCreateMap, Center: &c, Zoom: zoom})
	s.logger.Debug("map created", "center", center.String(), "zoom", zoom)
	return s
}

func (s *Scene) AddTileLayer(url, attribution string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TileLayers = append(s.state.TileLayers, TileLayer{URL: url, Attribution: attribution})
	s.emit(Command{Op: OpAddTileLayer, URL: url, Attribution: attribution})
}

func (s *Scene) On(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

func (s *Scene) AddMarker(coords geo.Location) Marker {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("m%d", len(s.order)+1)
	m := &sceneMarker{scene: s, id: id, coords: coords}
	s.markers[id] = m
	s.order = append(s.order, id)

	c := coords
	s.emit(Command{Op: OpAddMarker, MarkerID: id, Center: &c})
	return m
}

func (s *Scene) SetView(coords geo.Location, zoom int, opts ViewOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Center = coords
	s.state.Zoom = zoom
	c := coords
	s.emit(Command{Op: OpSetView, Center: &c, Zoom: zoom, View: &opts})
}

// Dispatch delivers an event to the handlers registered for its type. It
// reports false when the map is not created yet.
func (s *Scene) Dispatch(ev Event) bool {
	s.mu.Lock()
	if !s.state.Ready {
		s.mu.Unlock()
		return false
	}
	hs := append([]Handler(nil), s.handlers[ev.Type]...)
	s.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
	return true
}

// Ready reports whether CreateMap has been called.
func (s *Scene) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Ready
}

// Snapshot returns a copy of the current state.
func (s *Scene) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.TileLayers = append([]TileLayer(nil), s.state.TileLayers...)
	st.Markers = make([]MarkerState, 0, len(s.order))
	for _, id := range s.order {
		m := s.markers[id]
		ms := MarkerState{ID: m.id, Coords: m.coords, Content: m.content, PopupOpen: m.open}
		if m.popup != nil {
			p := *m.popup
			ms.Popup = &p
		}
		st.Markers = append(st.Markers, ms)
	}
	return st
}

// Replay returns the commands that rebuild the current state from scratch.
func (s *Scene) Replay() []Command {
	st := s.Snapshot()
	if !st.Ready {
		return nil
	}
	center := st.Center
	cmds := []Command{{Op: OpCreateMap, Center: &center, Zoom: st.Zoom}}
	for _, tl := range st.TileLayers {
		cmds = append(cmds, Command{Op: OpAddTileLayer, URL: tl.URL, Attribution: tl.Attribution})
	}
	for _, m := range st.Markers {
		c := m.Coords
		cmds = append(cmds, Command{Op: OpAddMarker, MarkerID: m.ID, Center: &c})
		if m.Popup != nil {
			cmds = append(cmds, Command{Op: OpBindPopup, MarkerID: m.ID, Popup: m.Popup})
		}
		if m.Content != "" {
			cmds = append(cmds, Command{Op: OpSetPopupContent, MarkerID: m.ID, Content: m.Content})
		}
		if m.PopupOpen {
			cmds = append(cmds, Command{Op: OpOpenPopup, MarkerID: m.ID})
		}
	}
	return cmds
}

type sceneMarker struct {
	scene   *Scene
	id      string
	coords  geo.Location
	popup   *PopupOptions
	content string
	open    bool
}

func (m *sceneMarker) ID() string           { return m.id }
func (m *sceneMarker) Coords() geo.Location { return m.coords }

func (m *sceneMarker) BindPopup(opts PopupOptions) Marker {
	s := m.scene
	s.mu.Lock()
	defer s.mu.Unlock()

	p := opts
	m.popup = &p
	s.emit(Command{Op: OpBindPopup, MarkerID: m.id, Popup: &p})
	return m
}

func (m *sceneMarker) SetPopupContent(content string) Marker {
	s := m.scene
	s.mu.Lock()
	defer s.mu.Unlock()

	m.content = content
	s.emit(Command{Op: OpSetPopupContent, MarkerID: m.id, Content: content})
	return m
}

func (m *sceneMarker) OpenPopup() Marker {
	s := m.scene
	s.mu.Lock()
	defer s.mu.Unlock()

	m.open = true
	s.emit(Command{Op: OpOpenPopup, MarkerID: m.id})
	return m
}

// Package mapview is the boundary to the interactive map widget.
//
// The controller talks to the Map and Marker interfaces only. Scene is the
// in-process implementation: it keeps the authoritative map state and
// emits every call as a Command, which the websocket hub replays into the
// browser's Leaflet instance.
package mapview

import "github.com/NERVsystems/mapty/pkg/geo"

const (
	// DefaultZoom is the zoom level used for the initial view and for
	// panning to a workout.
	DefaultZoom = 13

	DefaultTileURL     = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`

	// EventClick is delivered when the user clicks on the map surface.
	EventClick = "click"
)

// Event is a user interaction raised by the map.
type Event struct {
	Type   string       `json:"type"`
	LatLng geo.Location `json:"latlng"`
}

// Handler receives map events.
type Handler func(Event)

// PopupOptions mirrors the popup settings the widget understands.
type PopupOptions struct {
	MaxWidth     int    `json:"maxWidth"`
	MinWidth     int    `json:"minWidth"`
	AutoClose    bool   `json:"autoClose"`
	CloseOnClick bool   `json:"closeOnClick"`
	ClassName    string `json:"className"`
}

// ViewOptions controls how SetView moves the viewport.
type ViewOptions struct {
	Animate  bool    `json:"animate"`
	Duration float64 `json:"duration"` // seconds
}

// Factory creates map instances.
type Factory interface {
	CreateMap(center geo.Location, zoom int) Map
}

// Map is a created map.
type Map interface {
	AddTileLayer(url, attribution string)
	On(event string, h Handler)
	AddMarker(coords geo.Location) Marker
	SetView(coords geo.Location, zoom int, opts ViewOptions)
}

// Marker is a pin on the map. Methods return the marker so calls chain.
type Marker interface {
	ID() string
	Coords() geo.Location
	BindPopup(opts PopupOptions) Marker
	SetPopupContent(content string) Marker
	OpenPopup() Marker
}

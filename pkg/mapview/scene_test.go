package mapview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NERVsystems/mapty/pkg/geo"
)

func TestSceneEmitsCommands(t *testing.T) {
	s := NewScene(nil)
	var got []Command
	unsubscribe := s.Subscribe(func(c Command) { got = append(got, c) })

	m := s.CreateMap(geo.NewLocation(52.52, 13.405), DefaultZoom)
	m.AddTileLayer(DefaultTileURL, DefaultAttribution)
	mk := m.AddMarker(geo.NewLocation(52.5, 13.4))
	mk.BindPopup(PopupOptions{MaxWidth: 250, MinWidth: 100, ClassName: "running-popup"}).
		SetPopupContent("🏃‍♂️ Running on April 14").
		OpenPopup()
	m.SetView(mk.Coords(), DefaultZoom, ViewOptions{Animate: true, Duration: 1})

	ops := make([]string, 0, len(got))
	for _, c := range got {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{
		OpCreateMap, OpAddTileLayer, OpAddMarker, OpBindPopup, OpSetPopupContent, OpOpenPopup, OpSetView,
	}, ops)
	assert.Equal(t, "m1", got[2].MarkerID)
	require.NotNil(t, got[6].View)
	assert.Equal(t, 1.0, got[6].View.Duration)

	unsubscribe()
	m.AddMarker(geo.NewLocation(0, 0))
	assert.Len(t, got, 7, "no commands after unsubscribe")
}

func TestSceneSnapshot(t *testing.T) {
	s := NewScene(nil)
	assert.False(t, s.Snapshot().Ready)

	m := s.CreateMap(geo.NewLocation(1, 2), DefaultZoom)
	m.AddTileLayer(DefaultTileURL, DefaultAttribution)
	m.AddMarker(geo.NewLocation(3, 4)).SetPopupContent("x").OpenPopup()
	m.SetView(geo.NewLocation(3, 4), DefaultZoom, ViewOptions{})

	st := s.Snapshot()
	assert.True(t, st.Ready)
	assert.Equal(t, geo.NewLocation(3, 4), st.Center)
	assert.Equal(t, DefaultZoom, st.Zoom)
	require.Len(t, st.TileLayers, 1)
	require.Len(t, st.Markers, 1)
	assert.Equal(t, "x", st.Markers[0].Content)
	assert.True(t, st.Markers[0].PopupOpen)
	assert.Nil(t, st.Markers[0].Popup)
}

func TestSceneDispatch(t *testing.T) {
	s := NewScene(nil)
	assert.False(t, s.Dispatch(Event{Type: EventClick}), "no map yet")

	m := s.CreateMap(geo.NewLocation(0, 0), DefaultZoom)
	var clicked []geo.Location
	m.On(EventClick, func(ev Event) {
		clicked = append(clicked, ev.LatLng)
		// Handlers may call back into the map.
		m.AddMarker(ev.LatLng)
	})

	assert.True(t, s.Dispatch(Event{Type: EventClick, LatLng: geo.NewLocation(5, 6)}))
	assert.True(t, s.Dispatch(Event{Type: "dblclick"}))
	assert.Equal(t, []geo.Location{geo.NewLocation(5, 6)}, clicked)
	assert.Len(t, s.Snapshot().Markers, 1)
}

func TestSceneReplay(t *testing.T) {
	s := NewScene(nil)
	assert.Nil(t, s.Replay())

	m := s.CreateMap(geo.NewLocation(0, 0), DefaultZoom)
	m.AddTileLayer(DefaultTileURL, DefaultAttribution)
	m.AddMarker(geo.NewLocation(1, 1)).
		BindPopup(PopupOptions{ClassName: "cycling-popup"}).
		SetPopupContent("🚴‍♀️ Cycling on May 1").
		OpenPopup()

	var live []Command
	fresh := NewScene(nil)
	fresh.Subscribe(func(c Command) { live = append(live, c) })
	fm := fresh.CreateMap(geo.NewLocation(0, 0), DefaultZoom)
	fm.AddTileLayer(DefaultTileURL, DefaultAttribution)
	fm.AddMarker(geo.NewLocation(1, 1)).
		BindPopup(PopupOptions{ClassName: "cycling-popup"}).
		SetPopupContent("🚴‍♀️ Cycling on May 1").
		OpenPopup()

	assert.Equal(t, live, s.Replay())
}

func TestCreateMapResetsMarkers(t *testing.T) {
	s := NewScene(nil)
	m := s.CreateMap(geo.NewLocation(0, 0), DefaultZoom)
	m.AddMarker(geo.NewLocation(1, 1))
	s.CreateMap(geo.NewLocation(0, 0), DefaultZoom)
	assert.Empty(t, s.Snapshot().Markers)
}

// Package app is the workout log controller. An App owns the session's
// workouts, the map, the form state and the marker index, and runs every
// user action to completion before the next one starts.
package app

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"sync"
	"time"

	"github.com/NERVsystems/mapty/pkg/geo"
	"github.com/NERVsystems/mapty/pkg/geolocation"
	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/monitoring"
	"github.com/NERVsystems/mapty/pkg/persist"
	"github.com/NERVsystems/mapty/pkg/render"
	"github.com/NERVsystems/mapty/pkg/store"
	"github.com/NERVsystems/mapty/pkg/tracing"
	"github.com/NERVsystems/mapty/pkg/workout"
)

// User-facing alert texts.
const (
	AlertNoLocation   = "Can not retrieve current location."
	AlertInvalidInput = "Inputs must be valid numbers!"
	AlertBadStorage   = "Stored workouts could not be read and were ignored."
)

var (
	ErrMapNotReady       = errors.New("map is not initialized")
	ErrNoPendingLocation = errors.New("no map location selected")
	ErrWorkoutNotFound   = errors.New("workout not found")
)

// panOptions animate the viewport over one second.
var panOptions = mapview.ViewOptions{Animate: true, Duration: 1}

// Alerter shows a blocking message to the user.
type Alerter interface {
	Alert(message string)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(message string)

func (f AlertFunc) Alert(message string) { f(message) }

// Mode is the form visibility state.
type Mode int

const (
	Idle    Mode = iota // form hidden
	Editing             // form shown, a map location is pending
)

func (m Mode) String() string {
	if m == Editing {
		return "editing"
	}
	return "idle"
}

// FormState is what the form currently shows.
type FormState struct {
	Visible    bool          `json:"visible"`
	Type       workout.Kind  `json:"type"`
	ExtraField string        `json:"extraField"` // "cadence" or "elevation"
	Pending    *geo.Location `json:"pending,omitempty"`
}

// Update notifies subscribers of a state change.
type Update struct {
	Type    string           `json:"type"` // "form" or "workout"
	Form    *FormState       `json:"form,omitempty"`
	Workout *workout.Workout `json:"workout,omitempty"`
	Item    template.HTML    `json:"item,omitempty"`
}

// Update types
const (
	UpdateForm    = "form"
	UpdateWorkout = "workout"
)

// Config holds the collaborators of an App.
type Config struct {
	Store       store.KV
	Maps        mapview.Factory
	Locator     geolocation.Locator
	Alerter     Alerter
	Clock       workout.Clock
	Logger      *slog.Logger
	TileURL     string
	Attribution string
}

// App is the controller. Construct it once with New.
type App struct {
	mu sync.Mutex

	store   store.KV
	maps    mapview.Factory
	locator geolocation.Locator
	alerter Alerter
	clock   workout.Clock
	logger  *slog.Logger
	tileURL string
	attrib  string

	workouts *workout.Collection
	m        mapview.Map
	markers  map[string]mapview.Marker
	mode     Mode
	pending  *geo.Location
	formType workout.Kind
	started  bool

	subs    map[int]func(Update)
	nextSub int
}

// New creates an App. Store, Maps and Locator are required.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil || cfg.Maps == nil || cfg.Locator == nil {
		return nil, errors.New("app: store, map factory and locator are required")
	}
	if cfg.Alerter == nil {
		cfg.Alerter = AlertFunc(func(string) {})
	}
	if cfg.Clock == nil {
		cfg.Clock = workout.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TileURL == "" {
		cfg.TileURL = mapview.DefaultTileURL
	}
	if cfg.Attribution == "" {
		cfg.Attribution = mapview.DefaultAttribution
	}

	return &App{
		store:    cfg.Store,
		maps:     cfg.Maps,
		locator:  cfg.Locator,
		alerter:  cfg.Alerter,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "app"),
		tileURL:  cfg.TileURL,
		attrib:   cfg.Attribution,
		workouts: workout.NewCollection(),
		markers:  make(map[string]mapview.Marker),
		formType: workout.Running,
		subs:     make(map[int]func(Update)),
	}, nil
}

// Subscribe registers fn for state changes. fn runs with the controller
// locked and must not call back into the App.
func (a *App) Subscribe(fn func(Update)) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

func (a *App) publish(u Update) {
	for _, fn := range a.subs {
		fn(u)
	}
}

func (a *App) alert(reason, message string) {
	monitoring.RecordAlert(reason)
	a.alerter.Alert(message)
}

func (a *App) formStateLocked() FormState {
	fs := FormState{
		Visible:    a.mode == Editing,
		Type:       a.formType,
		ExtraField: workout.ExtraField(a.formType),
	}
	if a.pending != nil {
		p := *a.pending
		fs.Pending = &p
	}
	return fs
}

func (a *App) publishForm() {
	fs := a.formStateLocked()
	a.publish(Update{Type: UpdateForm, Form: &fs})
}

// Start restores stored workouts and then acquires the location. Stored
// data that fails to decode is reported and the session starts empty;
// any other store failure is returned.
func (a *App) Start(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "app.start")
	defer func() { tracing.End(span, err) }()

	start := time.Now()
	loaded, err := persist.Load(ctx, a.store)
	var de *persist.DeserializationError
	switch {
	case errors.As(err, &de):
		a.logger.Error("ignoring unreadable stored workouts", "key", de.Key, "index", de.Index, "field", de.Field, "reason", de.Reason)
		a.alert("bad_storage", AlertBadStorage)
		loaded = workout.NewCollection()
		err = nil
	case err != nil:
		monitoring.RecordOperation("start", time.Since(start), false)
		return fmt.Errorf("load workouts: %w", err)
	}

	a.mu.Lock()
	a.workouts = loaded
	a.started = true
	for _, kind := range workout.Kinds {
		monitoring.RecordWorkoutsLoaded(string(kind), len(loaded.OfKind(kind)))
	}
	a.logger.Info("workouts restored", "count", loaded.Len())
	a.mu.Unlock()

	monitoring.RecordOperation("start", time.Since(start), true)

	// A missing location is alerted, not fatal.
	_ = a.AcquireLocation(ctx)
	return nil
}

// AcquireLocation asks the locator once. On success the map is
// initialized at the position; on failure the user is alerted and the map
// stays uninitialized.
func (a *App) AcquireLocation(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "app.acquire_location")
	defer span.End()

	loc, err := a.locator.CurrentPosition(ctx)
	if err != nil {
		a.logger.Warn("location unavailable", "error", err)
		tracing.RecordError(ctx, err)
		a.alert("no_location", AlertNoLocation)
		return fmt.Errorf("acquire location: %w", err)
	}
	tracing.SetAttributes(ctx, tracing.LocationAttributes(loc)...)
	a.InitializeMap(loc)
	return nil
}

// InitializeMap creates the map at center, attaches the click listener
// and places a marker for every workout already in the session.
func (a *App) InitializeMap(center geo.Location) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := a.maps.CreateMap(center, mapview.DefaultZoom)
	m.AddTileLayer(a.tileURL, a.attrib)
	m.On(mapview.EventClick, func(ev mapview.Event) {
		if err := a.HandleMapClick(ev.LatLng); err != nil {
			a.logger.Warn("map click ignored", "error", err)
		}
	})

	a.m = m
	a.markers = make(map[string]mapview.Marker)
	for _, w := range a.workouts.All() {
		a.markers[w.ID] = render.Marker(m, w)
	}
	a.logger.Info("map initialized", "center", center.String(), "markers", len(a.markers))
}

// HandleMapClick opens the form for a workout at latlng. A second click
// while editing moves the pending location.
func (a *App) HandleMapClick(latlng geo.Location) error {
	if err := latlng.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.m == nil {
		return ErrMapNotReady
	}
	p := latlng
	a.pending = &p
	a.mode = Editing
	a.logger.Debug("form opened", "location", latlng.String())
	a.publishForm()
	return nil
}

// ToggleInputFieldsForType selects which variant input row the form shows.
func (a *App) ToggleInputFieldsForType(kind workout.Kind) error {
	if _, err := workout.ParseKind(string(kind)); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.formType = kind
	a.publishForm()
	return nil
}

// Submit validates the form and, on success, logs the workout at the
// pending location. On invalid input the user is alerted, the form stays
// open and a *ValidationError is returned. A persistence failure is
// returned after the workout has been added to the session.
func (a *App) Submit(ctx context.Context, values FormValues) (w *workout.Workout, err error) {
	ctx, span := tracing.StartSpan(ctx, "app.submit")
	start := time.Now()
	defer func() {
		monitoring.RecordOperation("submit", time.Since(start), err == nil)
		tracing.End(span, err)
	}()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.m == nil {
		return nil, ErrMapNotReady
	}
	if a.mode != Editing || a.pending == nil {
		return nil, ErrNoPendingLocation
	}

	kind := a.formType
	if values.Type != "" {
		k, perr := workout.ParseKind(values.Type)
		if perr != nil {
			return nil, &ValidationError{Field: "type", Value: values.Type, Reason: perr.Error()}
		}
		kind = k
	}

	in, verr := validate(kind, values)
	if verr != nil {
		monitoring.RecordValidationFailure(string(kind))
		a.logger.Info("workout rejected", "field", verr.Field, "value", verr.Value, "reason", verr.Reason)
		a.alert("invalid_input", AlertInvalidInput)
		return nil, verr
	}

	at := a.clock.Now()
	coords := *a.pending
	switch kind {
	case workout.Running:
		w = workout.NewRunning(coords, in.distance, in.duration, in.extra, at)
	case workout.Cycling:
		w = workout.NewCycling(coords, in.distance, in.duration, in.extra, at)
	}
	// Two workouts logged within the same millisecond would share an id.
	for bump := at; ; {
		if _, taken := a.workouts.Find(w.ID); !taken {
			break
		}
		bump = bump.Add(time.Millisecond)
		w.ID = workout.NewID(bump)
	}

	a.workouts.Add(w)
	monitoring.RecordWorkoutCreated(string(kind))
	tracing.SetAttributes(ctx, tracing.WorkoutAttributes(w.ID, string(kind))...)

	item, rerr := render.ListItem(w)
	if rerr != nil {
		a.logger.Error("failed to render workout", "id", w.ID, "error", rerr)
	}
	a.markers[w.ID] = render.Marker(a.m, w)
	a.m.SetView(w.Coords, mapview.DefaultZoom, panOptions)

	a.resetFormLocked()
	a.publish(Update{Type: UpdateWorkout, Workout: w, Item: item})
	a.publishForm()

	a.logger.Info("workout logged", "id", w.ID, "type", kind, "distance", w.Distance, "duration", w.Duration)

	if perr := persist.Save(ctx, a.store, a.workouts); perr != nil {
		monitoring.RecordError("app", "persist")
		a.logger.Error("failed to persist workouts", "error", perr)
		return w, fmt.Errorf("persist workouts: %w", perr)
	}
	return w, nil
}

// resetFormLocked hides the form and restores its defaults.
func (a *App) resetFormLocked() {
	a.mode = Idle
	a.pending = nil
	a.formType = workout.Running
}

// SelectExistingWorkout pans to a logged workout, reusing its marker.
func (a *App) SelectExistingWorkout(id string) (*workout.Workout, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.workouts.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkoutNotFound, id)
	}
	if a.m == nil {
		return nil, ErrMapNotReady
	}

	mk, ok := a.markers[id]
	if !ok {
		mk = render.Marker(a.m, w)
		a.markers[id] = mk
	}
	a.m.SetView(mk.Coords(), mapview.DefaultZoom, panOptions)
	a.logger.Debug("workout selected", "id", id)
	return w, nil
}

// Workouts returns the session's workouts, oldest first.
func (a *App) Workouts() []*workout.Workout {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workouts.All()
}

// ListItems renders the workout list, newest first.
func (a *App) ListItems() ([]template.HTML, error) {
	a.mu.Lock()
	ws := a.workouts.All()
	a.mu.Unlock()
	return render.List(ws)
}

// FormState returns the current form state.
func (a *App) FormState() FormState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.formStateLocked()
}

// Mode returns whether the form is open.
func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Started reports whether Start has restored the stored workouts.
func (a *App) Started() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// MapReady reports whether the map has been initialized.
func (a *App) MapReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m != nil
}

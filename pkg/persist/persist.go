// Package persist saves the workout log to a key-value store and restores
// it at startup.
//
// Each variant is stored as a JSON array under its own key. Loading decodes
// every record field by field; derived values (pace, speed, description,
// icon) are recomputed from the validated inputs rather than trusted.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/NERVsystems/mapty/pkg/geo"
	"github.com/NERVsystems/mapty/pkg/store"
	"github.com/NERVsystems/mapty/pkg/workout"
)

// Storage keys, one per variant.
const (
	KeyRunning = "runningWorkouts"
	KeyCycling = "cyclingWorkouts"
)

// KeyFor returns the storage key of a variant.
func KeyFor(kind workout.Kind) string {
	if kind == workout.Cycling {
		return KeyCycling
	}
	return KeyRunning
}

// DeserializationError reports a stored record that could not be decoded.
// Index is -1 when the value under Key is not a JSON array at all.
type DeserializationError struct {
	Key    string
	Index  int
	Field  string
	Reason string
}

func (e *DeserializationError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("%s: %s", e.Key, e.Reason)
	case e.Field == "":
		return fmt.Sprintf("%s[%d]: %s", e.Key, e.Index, e.Reason)
	}
	return fmt.Sprintf("%s[%d].%s: %s", e.Key, e.Index, e.Field, e.Reason)
}

type runningRecord struct {
	ID          string       `json:"id"`
	Type        workout.Kind `json:"type"`
	Date        time.Time    `json:"date"`
	Coords      geo.Location `json:"coords"`
	Distance    float64      `json:"distance"`
	Duration    float64      `json:"duration"`
	Description string       `json:"description"`
	Icon        string       `json:"icon"`
	Cadence     float64      `json:"cadence"`
	Pace        float64      `json:"pace"`
}

type cyclingRecord struct {
	ID            string       `json:"id"`
	Type          workout.Kind `json:"type"`
	Date          time.Time    `json:"date"`
	Coords        geo.Location `json:"coords"`
	Distance      float64      `json:"distance"`
	Duration      float64      `json:"duration"`
	Description   string       `json:"description"`
	Icon          string       `json:"icon"`
	ElevationGain float64      `json:"elevationGain"`
	Speed         float64      `json:"speed"`
}

// Save writes the running and cycling sub-collections under their keys.
// A key whose sub-collection is empty is left untouched.
func Save(ctx context.Context, kv store.KV, c *workout.Collection) error {
	if running := c.OfKind(workout.Running); len(running) > 0 {
		recs := make([]runningRecord, 0, len(running))
		for _, w := range running {
			recs = append(recs, runningRecord{
				ID: w.ID, Type: w.Type, Date: w.Date, Coords: w.Coords,
				Distance: w.Distance, Duration: w.Duration,
				Description: w.Description, Icon: w.Icon,
				Cadence: w.Cadence, Pace: w.Pace,
			})
		}
		if err := put(ctx, kv, KeyRunning, recs); err != nil {
			return err
		}
	}

	if cycling := c.OfKind(workout.Cycling); len(cycling) > 0 {
		recs := make([]cyclingRecord, 0, len(cycling))
		for _, w := range cycling {
			recs = append(recs, cyclingRecord{
				ID: w.ID, Type: w.Type, Date: w.Date, Coords: w.Coords,
				Distance: w.Distance, Duration: w.Duration,
				Description: w.Description, Icon: w.Icon,
				ElevationGain: w.ElevationGain, Speed: w.Speed,
			})
		}
		if err := put(ctx, kv, KeyCycling, recs); err != nil {
			return err
		}
	}
	return nil
}

func put(ctx context.Context, kv store.KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := kv.SetItem(ctx, key, string(data)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Load reads both keys and returns one collection ordered by date. Missing
// keys contribute nothing. A malformed record fails the whole load with a
// *DeserializationError.
func Load(ctx context.Context, kv store.KV) (*workout.Collection, error) {
	c := workout.NewCollection()
	for _, kind := range workout.Kinds {
		key := KeyFor(kind)
		raw, ok, err := kv.GetItem(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if !ok {
			continue
		}
		ws, err := decodeAll(key, kind, raw)
		if err != nil {
			return nil, err
		}
		for _, w := range ws {
			c.Add(w)
		}
	}
	c.SortByDate()
	return c, nil
}

func decodeAll(key string, kind workout.Kind, raw string) ([]*workout.Workout, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, &DeserializationError{Key: key, Index: -1, Reason: "value is not a JSON array"}
	}

	out := make([]*workout.Workout, 0, len(items))
	for i, item := range items {
		w, err := decodeRecord(key, i, kind, item)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// fields reads one JSON object and remembers where it came from so field
// errors can name their location.
type fields struct {
	key   string
	index int
	m     map[string]json.RawMessage
}

func (f *fields) fail(field, reason string) error {
	return &DeserializationError{Key: f.key, Index: f.index, Field: field, Reason: reason}
}

func (f *fields) raw(name string) (json.RawMessage, error) {
	v, ok := f.m[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, f.fail(name, "missing")
	}
	return v, nil
}

func (f *fields) str(name string) (string, error) {
	v, err := f.raw(name)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", f.fail(name, "must be a string")
	}
	return s, nil
}

func (f *fields) num(name string) (float64, error) {
	v, err := f.raw(name)
	if err != nil {
		return 0, err
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, f.fail(name, "must be a number")
	}
	return n, nil
}

func (f *fields) date(name string) (time.Time, error) {
	s, err := f.str(name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, f.fail(name, "must be an RFC 3339 timestamp")
	}
	return t, nil
}

func (f *fields) coords(name string) (geo.Location, error) {
	v, err := f.raw(name)
	if err != nil {
		return geo.Location{}, err
	}
	var loc geo.Location
	if err := json.Unmarshal(v, &loc); err != nil {
		return geo.Location{}, f.fail(name, "must be a [lat, lng] array of numbers")
	}
	if err := loc.Validate(); err != nil {
		return geo.Location{}, f.fail(name, err.Error())
	}
	return loc, nil
}

func decodeRecord(key string, index int, kind workout.Kind, data json.RawMessage) (*workout.Workout, error) {
	f := &fields{key: key, index: index}
	if err := json.Unmarshal(data, &f.m); err != nil || f.m == nil {
		return nil, f.fail("", "record is not a JSON object")
	}

	typ, err := f.str("type")
	if err != nil {
		return nil, err
	}
	if workout.Kind(typ) != kind {
		return nil, f.fail("type", fmt.Sprintf("expected %q, got %q", kind, typ))
	}
	id, err := f.str("id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, f.fail("id", "must not be empty")
	}
	at, err := f.date("date")
	if err != nil {
		return nil, err
	}
	loc, err := f.coords("coords")
	if err != nil {
		return nil, err
	}
	distance, err := f.num("distance")
	if err != nil {
		return nil, err
	}
	duration, err := f.num("duration")
	if err != nil {
		return nil, err
	}

	var w *workout.Workout
	switch kind {
	case workout.Running:
		cadence, err := f.num("cadence")
		if err != nil {
			return nil, err
		}
		w = workout.NewRunning(loc, distance, duration, cadence, at)
	case workout.Cycling:
		elevation, err := f.num("elevationGain")
		if err != nil {
			return nil, err
		}
		w = workout.NewCycling(loc, distance, duration, elevation, at)
	}
	if math.IsInf(w.Metric(), 0) || math.IsNaN(w.Metric()) {
		return nil, f.fail("distance", "derived metric is not finite")
	}

	// The stored id is authoritative; it need not match the date exactly.
	w.ID = id
	return w, nil
}

// Package workout defines the workout entity: a tagged union over the
// running and cycling variants with their derived metrics.
//
// Entities are built by NewRunning and NewCycling, which compute every
// derived field eagerly. Input validation belongs to the caller; the
// constructors never fail.
package workout

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NERVsystems/mapty/pkg/geo"
)

// Kind discriminates the workout variants.
type Kind string

const (
	Running Kind = "running"
	Cycling Kind = "cycling"
)

// Kinds lists the variants in display order.
var Kinds = []Kind{Running, Cycling}

// ParseKind validates a variant name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Running, Cycling:
		return k, nil
	}
	return "", fmt.Errorf("unknown workout type %q (want running or cycling)", s)
}

// Title returns the name with its first letter upper-cased.
func (k Kind) Title() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

// Workout is one logged session. Fields that do not belong to the Kind are
// left at zero: Cadence and Pace for cycling, ElevationGain and Speed for
// running.
type Workout struct {
	ID          string       `json:"id"`
	Type        Kind         `json:"type"`
	Date        time.Time    `json:"date"`
	Coords      geo.Location `json:"coords"`
	Distance    float64      `json:"distance"` // km
	Duration    float64      `json:"duration"` // min
	Description string       `json:"description"`
	Icon        string       `json:"icon"`

	Cadence float64 `json:"cadence"` // steps/min
	Pace    float64 `json:"pace"`    // min/km

	ElevationGain float64 `json:"elevationGain"` // m
	Speed         float64 `json:"speed"`         // km/h
}

// NewRunning builds a running workout created at the given time.
func NewRunning(coords geo.Location, distance, duration, cadence float64, at time.Time) *Workout {
	w := newBase(Running, coords, distance, duration, at)
	w.Cadence = cadence
	w.Pace = Pace(distance, duration)
	return w
}

// NewCycling builds a cycling workout created at the given time.
func NewCycling(coords geo.Location, distance, duration, elevationGain float64, at time.Time) *Workout {
	w := newBase(Cycling, coords, distance, duration, at)
	w.ElevationGain = elevationGain
	w.Speed = Speed(distance, duration)
	return w
}

func newBase(kind Kind, coords geo.Location, distance, duration float64, at time.Time) *Workout {
	return &Workout{
		ID:          NewID(at),
		Type:        kind,
		Date:        at,
		Coords:      coords,
		Distance:    distance,
		Duration:    duration,
		Description: Describe(kind, at),
		Icon:        variants[kind].icon,
	}
}

// Pace is minutes per kilometre. A zero distance yields +Inf.
func Pace(distance, duration float64) float64 {
	return duration / distance
}

// Speed is kilometres per hour.
func Speed(distance, duration float64) float64 {
	return distance / (duration / 60)
}

// Metric returns the variant's headline derived value: pace for running,
// speed for cycling.
func (w *Workout) Metric() float64 {
	return variants[w.Type].metric(w)
}

// Extra returns the variant specific input: cadence for running, elevation
// gain for cycling.
func (w *Workout) Extra() float64 {
	return variants[w.Type].extra(w)
}

// NewID derives an identifier from the creation time: the last ten digits
// of the Unix millisecond timestamp.
func NewID(t time.Time) string {
	ms := strconv.FormatInt(t.UnixMilli(), 10)
	if len(ms) > 10 {
		ms = ms[len(ms)-10:]
	}
	return ms
}

var months = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// Describe builds the display label "<Type> on <Month> <day>".
func Describe(kind Kind, t time.Time) string {
	return fmt.Sprintf("%s on %s %d", kind.Title(), months[t.Month()-1], t.Day())
}

// Icon returns the glyph shown for a variant.
func Icon(kind Kind) string {
	return variants[kind].icon
}

// Clock supplies creation timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

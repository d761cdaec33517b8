// Package render turns workouts into the list markup and map markers the
// user sees. Nothing here mutates a workout.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strconv"
	"strings"

	"github.com/NERVsystems/mapty/pkg/mapview"
	"github.com/NERVsystems/mapty/pkg/workout"
)

var itemTmpl = template.Must(template.New("item").Parse(`<li class="workout workout--{{.Type}}" data-id="{{.ID}}">
  <h2 class="workout__title">{{.Description}}</h2>
  <div class="workout__details">
    <span class="workout__icon">{{.Icon}}</span>
    <span class="workout__value">{{.Distance}}</span>
    <span class="workout__unit">km</span>
  </div>
  <div class="workout__details">
    <span class="workout__icon">⏱</span>
    <span class="workout__value">{{.Duration}}</span>
    <span class="workout__unit">min</span>
  </div>
{{- range .Rows}}
  <div class="workout__details">
    <span class="workout__icon">{{.Icon}}</span>
    <span class="workout__value">{{.Value}}</span>
    <span class="workout__unit">{{.Unit}}</span>
  </div>
{{- end}}
</li>`))

type rowView struct {
	Icon, Value, Unit string
}

type itemView struct {
	ID, Type, Description, Icon string
	Distance, Duration          string
	Rows                        []rowView
}

// ListItem renders one workout as a list entry.
func ListItem(w *workout.Workout) (template.HTML, error) {
	v := itemView{
		ID:          w.ID,
		Type:        string(w.Type),
		Description: w.Description,
		Icon:        w.Icon,
		Distance:    Number(w.Distance),
		Duration:    Number(w.Duration),
	}
	for _, r := range workout.Rows(w.Type) {
		val := r.Value(w)
		s := Number(val)
		if r.Fixed1 {
			s = Fixed1(val)
		}
		v.Rows = append(v.Rows, rowView{Icon: r.Icon, Value: s, Unit: r.Unit})
	}

	var buf bytes.Buffer
	if err := itemTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render workout %s: %w", w.ID, err)
	}
	return template.HTML(buf.String()), nil
}

// List renders every workout, newest first.
func List(ws []*workout.Workout) ([]template.HTML, error) {
	out := make([]template.HTML, 0, len(ws))
	for i := len(ws) - 1; i >= 0; i-- {
		item, err := ListItem(ws[i])
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// PopupOptions returns the popup settings for a workout variant.
func PopupOptions(kind workout.Kind) mapview.PopupOptions {
	return mapview.PopupOptions{
		MaxWidth:     250,
		MinWidth:     100,
		AutoClose:    false,
		CloseOnClick: false,
		ClassName:    string(kind) + "-popup",
	}
}

// PopupContent is the text shown in a workout's popup.
func PopupContent(w *workout.Workout) string {
	return w.Icon + " " + w.Description
}

// Marker places a marker for w on m with its popup bound and open.
func Marker(m mapview.Map, w *workout.Workout) mapview.Marker {
	return m.AddMarker(w.Coords).
		BindPopup(PopupOptions(w.Type)).
		SetPopupContent(PopupContent(w)).
		OpenPopup()
}

// Number formats v the way a browser prints a number: the shortest
// decimal form (5, 5.5, 0.1), switching to exponent notation below 1e-6
// and from 1e21 on (1e+21, 1.5e-7).
func Number(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}
	if abs := math.Abs(v); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	s := strconv.FormatFloat(v, 'e', -1, 64)
	i := strings.IndexByte(s, 'e')
	mantissa, sign, exp := s[:i], s[i+1], strings.TrimLeft(s[i+2:], "0")
	return mantissa + "e" + string(sign) + exp
}

// Fixed1 formats v with one decimal. Exact halves round away from zero.
func Fixed1(v float64) string {
	if q := v * 4; q == math.Trunc(q) && math.Mod(q, 2) != 0 {
		// odd multiple of 0.25: the tenths digit is an exact tie
		v = math.Round(v*10) / 10
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

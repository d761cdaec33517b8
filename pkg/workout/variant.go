package workout

// Row describes one variant specific line of a rendered workout.
type Row struct {
	Icon   string
	Unit   string
	Value  func(*Workout) float64
	Fixed1 bool // format with one decimal instead of the shortest form
}

// variant is the per-Kind dispatch table. Adding a variant means adding an
// entry here; nothing switches on Go types.
type variant struct {
	icon       string
	metric     func(*Workout) float64
	extra      func(*Workout) float64
	extraField string // form input that feeds extra
	rows       []Row
}

var variants = map[Kind]variant{
	Running: {
		icon:       "🏃‍♂️",
		metric:     func(w *Workout) float64 { return w.Pace },
		extra:      func(w *Workout) float64 { return w.Cadence },
		extraField: "cadence",
		rows: []Row{
			{Icon: "⚡️", Unit: "min/km", Value: func(w *Workout) float64 { return w.Pace }, Fixed1: true},
			{Icon: "🦶🏼", Unit: "spm", Value: func(w *Workout) float64 { return w.Cadence }},
		},
	},
	Cycling: {
		icon:       "🚴‍♀️",
		metric:     func(w *Workout) float64 { return w.Speed },
		extra:      func(w *Workout) float64 { return w.ElevationGain },
		extraField: "elevation",
		rows: []Row{
			{Icon: "⚡️", Unit: "km/h", Value: func(w *Workout) float64 { return w.Speed }, Fixed1: true},
			{Icon: "⛰", Unit: "m", Value: func(w *Workout) float64 { return w.ElevationGain }},
		},
	},
}

// Rows returns the variant specific display rows for a Kind, in order.
func Rows(kind Kind) []Row {
	return variants[kind].rows
}

// ExtraField names the form input a Kind reads besides distance and
// duration.
func ExtraField(kind Kind) string {
	return variants[kind].extraField
}

package app

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/NERVsystems/mapty/pkg/workout"
)

// FormValues are the raw form inputs. Type may be empty to keep the type
// currently selected in the form.
type FormValues struct {
	Type      string `json:"type"`
	Distance  string `json:"distance"`
	Duration  string `json:"duration"`
	Cadence   string `json:"cadence"`
	Elevation string `json:"elevation"`
}

// ValidationError describes the first rejected input of a submission.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ParseNumber reads a numeric input the way a browser number coercion
// does: surrounding space is ignored, an empty input is 0 and anything
// unparsable is NaN.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

type inputs struct {
	distance, duration, extra float64
}

type field struct {
	name     string
	raw      string
	positive bool
}

// validate requires every field of the variant to be finite, and all but
// the cycling elevation to be strictly positive. Negative elevation gain
// is a legitimate downhill ride.
func validate(kind workout.Kind, v FormValues) (inputs, *ValidationError) {
	fields := []field{
		{"distance", v.Distance, true},
		{"duration", v.Duration, true},
	}
	if kind == workout.Cycling {
		fields = append(fields, field{"elevation", v.Elevation, false})
	} else {
		fields = append(fields, field{"cadence", v.Cadence, true})
	}

	nums := make([]float64, len(fields))
	for i, f := range fields {
		n := ParseNumber(f.raw)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return inputs{}, &ValidationError{Field: f.name, Value: f.raw, Reason: "must be a finite number"}
		}
		nums[i] = n
	}
	for i, f := range fields {
		if f.positive && nums[i] <= 0 {
			return inputs{}, &ValidationError{Field: f.name, Value: f.raw, Reason: "must be positive"}
		}
	}
	return inputs{distance: nums[0], duration: nums[1], extra: nums[2]}, nil
}

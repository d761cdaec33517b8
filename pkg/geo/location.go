// Package geo holds the geographic primitives shared by the map, the
// workout model and the geolocation sources.
package geo

import (
	"encoding/json"
	"fmt"
	"math"
)

// Location is a WGS84 coordinate pair in decimal degrees.
//
// It serializes as a two element JSON array [lat, lng], the same shape the
// map widget consumes.
type Location struct {
	Latitude  float64
	Longitude float64
}

// NewLocation returns a Location for the given latitude and longitude.
func NewLocation(lat, lng float64) Location {
	return Location{Latitude: lat, Longitude: lng}
}

// Validate checks that both components are finite and in range.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %v", l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %v", l.Longitude)
	}
	return nil
}

// Pair returns the location as a [lat, lng] array.
func (l Location) Pair() [2]float64 {
	return [2]float64{l.Latitude, l.Longitude}
}

// String formats the location with six decimals.
func (l Location) String() string {
	return fmt.Sprintf("%.6f, %.6f", l.Latitude, l.Longitude)
}

// MarshalJSON encodes the location as [lat, lng].
func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Pair())
}

// UnmarshalJSON decodes a [lat, lng] array. Arrays of any other length are
// rejected.
func (l *Location) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("coordinates must be a [lat, lng] array: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("coordinates must have exactly 2 elements, got %d", len(pair))
	}
	l.Latitude, l.Longitude = pair[0], pair[1]
	return nil
}

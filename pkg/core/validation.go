package core

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/mapty/pkg/geo"
	"github.com/NERVsystems/mapty/pkg/workout"
)

// ValidateCoords checks that latitude and longitude are in range.
func ValidateCoords(lat, lon float64) error {
	if lat != lat || lat < -90 || lat > 90 {
		return NewValidationError(ErrInvalidLatitude,
			fmt.Sprintf("Latitude must be between -90 and 90, got %f", lat)).WithField("latitude")
	}
	if lon != lon || lon < -180 || lon > 180 {
		return NewValidationError(ErrInvalidLongitude,
			fmt.Sprintf("Longitude must be between -180 and 180, got %f", lon)).WithField("longitude")
	}
	return nil
}

// ParseLocation reads and validates a latitude/longitude pair from a tool
// request. Empty keys default to "latitude" and "longitude".
func ParseLocation(req mcp.CallToolRequest, latKey, lonKey string) (geo.Location, error) {
	if latKey == "" {
		latKey = "latitude"
	}
	if lonKey == "" {
		lonKey = "longitude"
	}

	args := req.GetArguments()
	for _, k := range []string{latKey, lonKey} {
		if _, ok := args[k]; !ok {
			return geo.Location{}, NewValidationError(ErrMissingParameter, k+" is required").WithField(k)
		}
	}

	lat := mcp.ParseFloat64(req, latKey, 0)
	lon := mcp.ParseFloat64(req, lonKey, 0)
	if err := ValidateCoords(lat, lon); err != nil {
		return geo.Location{}, err
	}
	return geo.NewLocation(lat, lon), nil
}

// ParseKind reads the workout type argument. A missing argument yields
// def.
func ParseKind(req mcp.CallToolRequest, key string, def workout.Kind) (workout.Kind, error) {
	raw := mcp.ParseString(req, key, "")
	if raw == "" {
		return def, nil
	}
	k, err := workout.ParseKind(raw)
	if err != nil {
		return "", NewValidationError(ErrInvalidType, err.Error()).WithField(key)
	}
	return k, nil
}

// RawField returns a tool argument the way a text input would hold it: a
// missing argument is "", numbers are formatted, strings pass through.
// Numeric interpretation is left to the caller.
func RawField(req mcp.CallToolRequest, key string) string {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

// ParseLocationWithLog parses a location and logs any error.
func ParseLocationWithLog(req mcp.CallToolRequest, logger *slog.Logger, latKey, lonKey string) (geo.Location, error) {
	loc, err := ParseLocation(req, latKey, lonKey)
	if err != nil {
		logger.Error("invalid coordinates", "error", err)
	}
	return loc, err
}

// Package coords parses human-entered positions into decimal degrees.
//
// It backs the --location flag and the position arguments of the MCP
// tools, so a fixed home position can be given in whichever notation the
// user has at hand:
//   - Decimal degrees: "52.5200, 13.4050" or "52.52 13.405"
//   - Degrees Minutes Seconds: "52°31'12"N 13°24'18"E"
//   - MGRS: "33UUU9100017000"
package coords

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/akhenakh/mgrs"

	"github.com/NERVsystems/mapty/pkg/geo"
)

// Format identifies the notation a position was written in.
type Format int

const (
	FormatUnknown Format = iota
	FormatDecimal
	FormatDMS
	FormatMGRS
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatDecimal:
		return "decimal"
	case FormatDMS:
		return "dms"
	case FormatMGRS:
		return "mgrs"
	default:
		return "unknown"
	}
}

// Position is a parsed location together with the notation it came from.
type Position struct {
	Location geo.Location
	Format   Format
	Original string
}

var (
	// Grid zone, latitude band (no I or O), 100km square, even count of digits.
	mgrsRegex = regexp.MustCompile(`(?i)^(\d{1,2})([C-HJ-NP-X])([A-HJ-NP-Z]{2})(\d{2,10})$`)

	dmsRegex = regexp.MustCompile(`(?i)^(\d+)[°d\s]+(\d+)[′'m\s]+(\d+(?:\.\d+)?)[″"s]?\s*([NS])[\s,]+(\d+)[°d\s]+(\d+)[′'m\s]+(\d+(?:\.\d+)?)[″"s]?\s*([EW])$`)

	decimalRegex = regexp.MustCompile(`^(-?\d+(?:\.\d*)?)\s*[,\s]\s*(-?\d+(?:\.\d*)?)$`)
)

// Parse detects the notation of input and converts it to decimal degrees.
func Parse(input string) (*Position, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty position")
	}

	switch DetectFormat(input) {
	case FormatMGRS:
		return ParseMGRS(input)
	case FormatDMS:
		return ParseDMS(input)
	case FormatDecimal:
		return ParseDecimal(input)
	}
	return nil, fmt.Errorf("unrecognized position format: %q", input)
}

// DetectFormat reports the notation of input without converting it.
func DetectFormat(input string) Format {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return FormatUnknown
	case mgrsRegex.MatchString(input):
		return FormatMGRS
	case dmsRegex.MatchString(input):
		return FormatDMS
	case decimalRegex.MatchString(input):
		return FormatDecimal
	}
	return FormatUnknown
}

// ParseMGRS converts an MGRS grid reference. The numeric part must hold an
// even number of digits (2 to 10).
func ParseMGRS(input string) (*Position, error) {
	input = strings.ToUpper(strings.TrimSpace(input))
	m := mgrsRegex.FindStringSubmatch(input)
	if m == nil {
		return nil, fmt.Errorf("invalid MGRS reference: %q", input)
	}
	if len(m[4])%2 != 0 {
		return nil, fmt.Errorf("invalid MGRS reference %q: odd digit count", input)
	}

	lat, lng, err := mgrs.MGRSToLatLng(input)
	if err != nil {
		return nil, fmt.Errorf("converting MGRS %q: %w", input, err)
	}
	loc := geo.NewLocation(lat, lng)
	if err := loc.Validate(); err != nil {
		return nil, fmt.Errorf("MGRS %q: %w", input, err)
	}
	return &Position{Location: loc, Format: FormatMGRS, Original: input}, nil
}

// ParseDMS converts a degrees/minutes/seconds pair with hemisphere letters.
func ParseDMS(input string) (*Position, error) {
	input = strings.TrimSpace(input)
	m := dmsRegex.FindStringSubmatch(input)
	if m == nil {
		return nil, fmt.Errorf("invalid DMS position: %q", input)
	}

	lat, err := dmsToDecimal(m[1], m[2], m[3], 90)
	if err != nil {
		return nil, fmt.Errorf("latitude of %q: %w", input, err)
	}
	lng, err := dmsToDecimal(m[5], m[6], m[7], 180)
	if err != nil {
		return nil, fmt.Errorf("longitude of %q: %w", input, err)
	}
	if strings.EqualFold(m[4], "S") {
		lat = -lat
	}
	if strings.EqualFold(m[8], "W") {
		lng = -lng
	}

	return &Position{Location: geo.NewLocation(lat, lng), Format: FormatDMS, Original: input}, nil
}

func dmsToDecimal(deg, min, sec string, maxDeg float64) (float64, error) {
	d, _ := strconv.ParseFloat(deg, 64)
	m, _ := strconv.ParseFloat(min, 64)
	s, _ := strconv.ParseFloat(sec, 64)
	if d > maxDeg || m >= 60 || s >= 60 {
		return 0, fmt.Errorf("out of range: %s %s %s", deg, min, sec)
	}
	v := d + m/60 + s/3600
	if v > maxDeg {
		return 0, fmt.Errorf("exceeds %v degrees", maxDeg)
	}
	return v, nil
}

// ParseDecimal converts a "lat, lng" or "lat lng" pair.
func ParseDecimal(input string) (*Position, error) {
	input = strings.TrimSpace(input)
	m := decimalRegex.FindStringSubmatch(input)
	if m == nil {
		return nil, fmt.Errorf("invalid decimal position: %q", input)
	}

	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude: %s", m[1])
	}
	lng, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude: %s", m[2])
	}

	loc := geo.NewLocation(lat, lng)
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return &Position{Location: loc, Format: FormatDecimal, Original: input}, nil
}

// ToMGRS renders a location as an MGRS reference. Precision 1-5 selects
// 10km down to 1m; anything else means 1m.
func ToMGRS(loc geo.Location, precision int) (string, error) {
	if precision < 1 || precision > 5 {
		precision = 5
	}
	if err := loc.Validate(); err != nil {
		return "", err
	}
	ref, err := mgrs.LatLngToMGRS(loc.Latitude, loc.Longitude, precision)
	if err != nil {
		return "", fmt.Errorf("MGRS conversion failed: %w", err)
	}
	return ref, nil
}

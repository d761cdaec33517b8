package coords

import (
	"math"
	"testing"

	"github.com/NERVsystems/mapty/pkg/geo"
)

const tolerance = 0.0001

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) < tol
}

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLat float64
		wantLng float64
		wantErr bool
	}{
		{name: "comma separated", input: "52.52, 13.405", wantLat: 52.52, wantLng: 13.405},
		{name: "space separated", input: "52.52 13.405", wantLat: 52.52, wantLng: 13.405},
		{name: "southern western", input: "-33.857, -70.506", wantLat: -33.857, wantLng: -70.506},
		{name: "integers", input: "45, 90", wantLat: 45, wantLng: 90},
		{name: "north pole", input: "90, 0", wantLat: 90, wantLng: 0},
		{name: "antimeridian", input: "0, -180", wantLat: 0, wantLng: -180},
		{name: "latitude out of range", input: "91, 0", wantErr: true},
		{name: "longitude out of range", input: "0, 181", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "single number", input: "52.52", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := ParseDecimal(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDecimal(%q) expected error, got %v", tt.input, pos.Location)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDecimal(%q) unexpected error: %v", tt.input, err)
			}
			if !almostEqual(pos.Location.Latitude, tt.wantLat, tolerance) {
				t.Errorf("lat = %f, want %f", pos.Location.Latitude, tt.wantLat)
			}
			if !almostEqual(pos.Location.Longitude, tt.wantLng, tolerance) {
				t.Errorf("lng = %f, want %f", pos.Location.Longitude, tt.wantLng)
			}
			if pos.Format != FormatDecimal {
				t.Errorf("format = %v, want decimal", pos.Format)
			}
		})
	}
}

func TestParseDMS(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLat float64
		wantLng float64
		wantErr bool
	}{
		{name: "symbols", input: `19°51'22"N 99°49'0"E`, wantLat: 19.856111, wantLng: 99.816667},
		{name: "letters", input: "19d51m22sN 99d49m0sE", wantLat: 19.856111, wantLng: 99.816667},
		{name: "southern hemisphere", input: `33°51'25"S 151°12'55"E`, wantLat: -33.857, wantLng: 151.215},
		{name: "western hemisphere", input: `40°42'46"N 74°0'22"W`, wantLat: 40.713, wantLng: -74.006},
		{name: "latitude over 90", input: `91°0'0"N 0°0'0"E`, wantErr: true},
		{name: "sixty minutes", input: `45°60'0"N 90°0'0"E`, wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := ParseDMS(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDMS(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDMS(%q) unexpected error: %v", tt.input, err)
			}
			if !almostEqual(pos.Location.Latitude, tt.wantLat, 0.001) {
				t.Errorf("lat = %f, want %f", pos.Location.Latitude, tt.wantLat)
			}
			if !almostEqual(pos.Location.Longitude, tt.wantLng, 0.001) {
				t.Errorf("lng = %f, want %f", pos.Location.Longitude, tt.wantLng)
			}
		})
	}
}

func TestParseMGRSRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "18S", "18SIJ1234567890", "18SOJ1234567890", "18SUJ123456789"} {
		if _, err := ParseMGRS(input); err == nil {
			t.Errorf("ParseMGRS(%q) expected error", input)
		}
	}
}

func TestMGRSRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		loc  geo.Location
	}{
		{"Lisbon", geo.NewLocation(38.7223, -9.1393)},
		{"Berlin", geo.NewLocation(52.52, 13.405)},
		{"Sydney", geo.NewLocation(-33.857, 151.215)},
		{"Equator", geo.NewLocation(0, 0)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := ToMGRS(tc.loc, 5)
			if err != nil {
				t.Fatalf("ToMGRS(%v) error: %v", tc.loc, err)
			}

			pos, err := Parse(ref)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", ref, err)
			}
			if pos.Format != FormatMGRS {
				t.Errorf("Parse(%q) format = %v, want mgrs", ref, pos.Format)
			}
			if !almostEqual(pos.Location.Latitude, tc.loc.Latitude, tolerance) {
				t.Errorf("round-trip lat = %f, want %f", pos.Location.Latitude, tc.loc.Latitude)
			}
			if !almostEqual(pos.Location.Longitude, tc.loc.Longitude, tolerance) {
				t.Errorf("round-trip lng = %f, want %f", pos.Location.Longitude, tc.loc.Longitude)
			}
		})
	}
}

func TestToMGRSOutOfRange(t *testing.T) {
	if _, err := ToMGRS(geo.NewLocation(95, 0), 5); err == nil {
		t.Error("expected error for latitude 95")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
	}{
		{"52.52, 13.405", FormatDecimal},
		{`19°51'22"N 99°49'0"E`, FormatDMS},
		{"33UUU9100017000", FormatMGRS},
		{"Alexanderplatz, Berlin", FormatUnknown},
		{"", FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.input); got != tt.want {
			t.Errorf("DetectFormat(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse("Alexanderplatz, Berlin"); err == nil {
		t.Error("expected error for an address")
	}
}

func TestFormatString(t *testing.T) {
	tests := map[Format]string{
		FormatDecimal: "decimal",
		FormatDMS:     "dms",
		FormatMGRS:    "mgrs",
		FormatUnknown: "unknown",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("Format(%d).String() = %q, want %q", f, got, want)
		}
	}
}

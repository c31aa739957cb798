package geo

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

var (
	lichtenvoorde = MustGeoPoint(51.9867, 6.5667).WithLabel("Thuis-Lichtenvoorde")
	doetinchem    = MustGeoPoint(51.9650, 6.2883).WithLabel("Centrum-Doetinchem")
)

func TestNewGeoPoint_NormalizesLongitude(t *testing.T) {
	tests := []struct {
		lon, want float64
	}{
		{-180, 180},
		{180, 180},
		{190, -170},
		{-190, 170},
		{540, 180},
		{6.5, 6.5},
	}
	for _, tt := range tests {
		p, err := NewGeoPoint(10, tt.lon)
		if err != nil {
			t.Fatalf("NewGeoPoint(10, %v) error: %v", tt.lon, err)
		}
		if p.Lon != tt.want {
			t.Errorf("NewGeoPoint(10, %v).Lon = %v, want %v", tt.lon, p.Lon, tt.want)
		}
	}
}

func TestNormalize_DecodedPoint(t *testing.T) {
	var p GeoPoint
	if err := json.Unmarshal([]byte(`{"lat":10,"lon":190,"label":"x"}`), &p); err != nil {
		t.Fatal(err)
	}
	if err := p.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p.Lon != -170 || p.Label != "x" {
		t.Errorf("got %+v, want lon -170 with label kept", p)
	}
	if z := ZoneOf(p); z.Number != 2 {
		t.Errorf("zone = %s, want 2N", z)
	}

	bad := GeoPoint{Lat: 95, Lon: 190}
	if err := bad.Normalize(); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("expected ErrInvalidCoordinate, got %v", err)
	}
	if bad.Lon != 190 {
		t.Errorf("invalid point must be left untouched, got %+v", bad)
	}
}

func TestNewGeoPoint_RejectsInvalid(t *testing.T) {
	for _, c := range [][2]float64{{91, 0}, {-90.5, 0}, {math.NaN(), 0}, {0, math.Inf(1)}} {
		if _, err := NewGeoPoint(c[0], c[1]); !errors.Is(err, ErrInvalidCoordinate) {
			t.Errorf("NewGeoPoint(%v, %v) err = %v, want ErrInvalidCoordinate", c[0], c[1], err)
		}
	}
}

func TestDistance_SamePoint(t *testing.T) {
	if got := Distance(lichtenvoorde, lichtenvoorde); got != 0 {
		t.Errorf("Distance(same point) = %v, want 0", got)
	}
}

func TestDistance_Symmetric(t *testing.T) {
	pts := []GeoPoint{lichtenvoorde, doetinchem, MustGeoPoint(-33.9, 151.2), MustGeoPoint(0, 180), MustGeoPoint(0, -179.5)}
	for _, a := range pts {
		for _, b := range pts {
			if Distance(a, b) != Distance(b, a) {
				t.Errorf("Distance(%v,%v) != Distance(%v,%v)", a, b, b, a)
			}
		}
	}
}

func TestDistance_KnownDistance(t *testing.T) {
	got := Distance(lichtenvoorde, doetinchem)
	if got < 18_000 || got > 20_500 {
		t.Errorf("Distance(Lichtenvoorde→Doetinchem) = %.0f m, want ~19.3 km", got)
	}
}

func TestDistance_AcrossAntimeridian(t *testing.T) {
	a := MustGeoPoint(0, 179.5)
	b := MustGeoPoint(0, -179.5)
	got := Distance(a, b)
	want := 2 * math.Pi * EarthRadiusM / 360
	if math.Abs(got-want) > 1 {
		t.Errorf("Distance across ±180 = %.1f, want %.1f", got, want)
	}
}

func TestBearing_CardinalDirections(t *testing.T) {
	origin := MustGeoPoint(0, 0)
	tests := []struct {
		name string
		to   GeoPoint
		want float64
	}{
		{"east", MustGeoPoint(0, 1), 0},
		{"north", MustGeoPoint(1, 0), math.Pi / 2},
		{"west", MustGeoPoint(0, -1), math.Pi},
		{"south", MustGeoPoint(-1, 0), -math.Pi / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(origin, tt.to)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Bearing = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDestination_InvertsDistanceAndBearing(t *testing.T) {
	got := Destination(lichtenvoorde, Distance(lichtenvoorde, doetinchem), Bearing(lichtenvoorde, doetinchem))
	if d := Distance(got, doetinchem); d > 0.01 {
		t.Errorf("Destination landed %.4f m from target", d)
	}
}

func TestSameHalfPlane(t *testing.T) {
	tests := []struct {
		a, b float64
		want bool
	}{
		{0, math.Pi / 4, true},
		{0, 3 * math.Pi / 4, false},
		{math.Pi - 0.1, -math.Pi + 0.1, true},
		{math.Pi / 2, -math.Pi / 2, false},
	}
	for _, tt := range tests {
		if got := SameHalfPlane(tt.a, tt.b); got != tt.want {
			t.Errorf("SameHalfPlane(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRouteDistance(t *testing.T) {
	direct := Distance(lichtenvoorde, doetinchem)
	via := RouteDistance(lichtenvoorde, MustGeoPoint(52.05, 6.4), doetinchem)
	if via <= direct {
		t.Errorf("RouteDistance via detour = %.0f, want > direct %.0f", via, direct)
	}
	if RouteDistance(lichtenvoorde) != 0 {
		t.Errorf("RouteDistance of a single stop should be 0")
	}
}

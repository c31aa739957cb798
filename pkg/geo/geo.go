// Package geo provides the geographic primitives used by ride matching.
//
// Distances use the haversine formula on a spherical Earth. Headings follow
// the mathematical convention: east is 0 and angles grow counter-clockwise,
// so north is +π/2 and west is π.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusM is the mean radius of Earth in meters (IUGG).
	EarthRadiusM = 6_371_008.8
)

// ErrInvalidCoordinate is returned for latitudes outside [-90, 90] and for
// non-finite coordinates.
var ErrInvalidCoordinate = errors.New("geo: invalid coordinate")

// ─── GeoPoint ───────────────────────────────────────────────

// GeoPoint is an immutable WGS-84 position in degrees.
type GeoPoint struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label,omitempty"`
}

// NewGeoPoint validates lat and wraps lon into (-180, 180].
func NewGeoPoint(lat, lon float64) (GeoPoint, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return GeoPoint{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	if lat < -90 || lat > 90 {
		return GeoPoint{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, lat)
	}
	return GeoPoint{Lat: lat, Lon: NormalizeLon(lon)}, nil
}

// MustGeoPoint is NewGeoPoint for literals known to be valid.
func MustGeoPoint(lat, lon float64) GeoPoint {
	p, err := NewGeoPoint(lat, lon)
	if err != nil {
		panic(err)
	}
	return p
}

// WithLabel returns a copy of p carrying the given label.
func (p GeoPoint) WithLabel(label string) GeoPoint {
	p.Label = label
	return p
}

// Validate reports whether p is a valid GeoPoint. Values
// decoded from JSON or scanned from the database bypass NewGeoPoint, so
// callers at those boundaries re-check with Validate or Normalized.
func (p GeoPoint) Validate() error {
	_, err := NewGeoPoint(p.Lat, p.Lon)
	return err
}

// Normalized runs p back through NewGeoPoint, keeping its label.
func (p GeoPoint) Normalized() (GeoPoint, error) {
	n, err := NewGeoPoint(p.Lat, p.Lon)
	if err != nil {
		return GeoPoint{}, err
	}
	n.Label = p.Label
	return n, nil
}

// Normalize replaces p with its normalized form. p is left untouched when
// it is invalid.
func (p *GeoPoint) Normalize() error {
	n, err := p.Normalized()
	if err != nil {
		return err
	}
	*p = n
	return nil
}

func (p GeoPoint) String() string {
	if p.Label != "" {
		return fmt.Sprintf("%s(%.5f,%.5f)", p.Label, p.Lat, p.Lon)
	}
	return fmt.Sprintf("(%.5f,%.5f)", p.Lat, p.Lon)
}

// NormalizeLon wraps a finite longitude into (-180, 180].
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon <= -180 {
		lon += 360
	} else if lon > 180 {
		lon -= 360
	}
	return lon
}

// ─── Distance ───────────────────────────────────────────────

// Distance returns the great-circle distance between two points in meters.
//
// Complexity: O(1)
func Distance(a, b GeoPoint) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon
	if h > 1 {
		h = 1
	}

	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// RouteDistance returns the length of an ordered route in meters.
//
// Complexity: O(S) where S = number of stops.
func RouteDistance(route ...GeoPoint) float64 {
	total := 0.0
	for i := 0; i < len(route)-1; i++ {
		total += Distance(route[i], route[i+1])
	}
	return total
}

// ─── Bearing ────────────────────────────────────────────────

// Bearing returns the initial heading from origin towards p in radians,
// east = 0, counter-clockwise, in (-π, π]. Coincident points give 0.
func Bearing(origin, p GeoPoint) float64 {
	if origin.Lat == p.Lat && origin.Lon == p.Lon {
		return 0
	}
	φ1 := degToRad(origin.Lat)
	φ2 := degToRad(p.Lat)
	Δλ := degToRad(p.Lon - origin.Lon)

	north := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	east := math.Sin(Δλ) * math.Cos(φ2)

	return normalizeAngle(math.Atan2(north, east))
}

// AngleBetween is the smallest absolute difference between two headings,
// in [0, π].
func AngleBetween(a, b float64) float64 {
	return math.Abs(normalizeAngle(a - b))
}

// SameHalfPlane reports whether two headings point into the same half-plane,
// i.e. they differ by strictly less than a right angle.
func SameHalfPlane(a, b float64) bool {
	return AngleBetween(a, b) < math.Pi/2
}

// ─── Projection along a heading ─────────────────────────────

// Destination returns the point reached by travelling distance meters from
// origin along heading (east = 0, counter-clockwise).
func Destination(origin GeoPoint, distance, heading float64) GeoPoint {
	δ := distance / EarthRadiusM
	θ := math.Pi/2 - heading // compass azimuth
	φ1 := degToRad(origin.Lat)
	λ1 := degToRad(origin.Lon)

	sinφ2 := math.Sin(φ1)*math.Cos(δ) + math.Cos(φ1)*math.Sin(δ)*math.Cos(θ)
	φ2 := math.Asin(clamp(sinφ2, -1, 1))
	λ2 := λ1 + math.Atan2(
		math.Sin(θ)*math.Sin(δ)*math.Cos(φ1),
		math.Cos(δ)-math.Sin(φ1)*sinφ2,
	)

	return GeoPoint{Lat: radToDeg(φ2), Lon: NormalizeLon(radToDeg(λ2))}
}

// Midpoint returns the great-circle midpoint of a and b.
func Midpoint(a, b GeoPoint) GeoPoint {
	φ1, λ1 := degToRad(a.Lat), degToRad(a.Lon)
	φ2 := degToRad(b.Lat)
	Δλ := degToRad(b.Lon - a.Lon)

	bx := math.Cos(φ2) * math.Cos(Δλ)
	by := math.Cos(φ2) * math.Sin(Δλ)
	φ := math.Atan2(math.Sin(φ1)+math.Sin(φ2), math.Sqrt((math.Cos(φ1)+bx)*(math.Cos(φ1)+bx)+by*by))
	λ := λ1 + math.Atan2(by, math.Cos(φ1)+bx)

	return GeoPoint{Lat: radToDeg(φ), Lon: NormalizeLon(radToDeg(λ))}
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}

func radToDeg(rad float64) float64 {
	return rad * (180.0 / math.Pi)
}

// normalizeAngle wraps an angle into (-π, π].
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

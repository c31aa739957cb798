package geo

import (
	"errors"
	"fmt"
	"math"
)

// ─── Local planar frame (UTM) ───────────────────────────────
//
// Ellipse construction needs Euclidean geometry, so every origin/destination
// pair is first moved into one shared transverse Mercator zone. The forward
// and inverse series below are the USGS (Snyder 1987) formulas on WGS-84.

const (
	wgs84A  = 6_378_137.0
	wgs84F  = 1 / 298.257223563
	utmK0   = 0.9996
	falseE  = 500_000.0
	falseNS = 10_000_000.0
)

var (
	e2  = wgs84F * (2 - wgs84F)
	ep2 = e2 / (1 - e2)
	e4  = e2 * e2
	e6  = e4 * e2

	// Meridian arc coefficients.
	m0 = 1 - e2/4 - 3*e4/64 - 5*e6/256
	m2 = 3*e2/8 + 3*e4/32 + 45*e6/1024
	m4 = 15*e4/256 + 45*e6/1024
	m6 = 35 * e6 / 3072
)

// ErrNoPoints is returned when a zone is requested for an empty point set.
var ErrNoPoints = errors.New("geo: no points to select a zone for")

// Zone identifies a 6°-wide UTM zone and hemisphere.
type Zone struct {
	Number int  `json:"number"`
	North  bool `json:"north"`
}

func (z Zone) String() string {
	h := "N"
	if !z.North {
		h = "S"
	}
	return fmt.Sprintf("%d%s", z.Number, h)
}

// CentralMeridian returns the zone's central meridian in degrees.
func (z Zone) CentralMeridian() float64 {
	return float64(z.Number-1)*6 - 180 + 3
}

// PlanarPoint is a position in meters inside one Zone.
type PlanarPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between two planar points.
func (p PlanarPoint) Dist(q PlanarPoint) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// ZoneOf returns the standard zone containing p.
func ZoneOf(p GeoPoint) Zone {
	n := int(math.Floor((p.Lon+180)/6)) + 1
	if n > 60 {
		n = 60
	}
	if n < 1 {
		n = 1
	}
	return Zone{Number: n, North: p.Lat >= 0}
}

// NearestZone picks the zone giving all points a low-distortion embedding.
// Points sharing one zone use it; points spanning zones use the zone of
// their geographic centroid (for a pair, their midpoint).
func NearestZone(points ...GeoPoint) (Zone, error) {
	if len(points) == 0 {
		return Zone{}, ErrNoPoints
	}
	first := ZoneOf(points[0])
	same := true
	for _, p := range points[1:] {
		if ZoneOf(p) != first {
			same = false
			break
		}
	}
	if same {
		return first, nil
	}
	return ZoneOf(centroid(points)), nil
}

// ToPlanar projects p into zone z.
func ToPlanar(z Zone, p GeoPoint) PlanarPoint {
	φ := degToRad(p.Lat)
	dλ := normalizeAngle(degToRad(p.Lon - z.CentralMeridian()))

	sinφ, cosφ := math.Sin(φ), math.Cos(φ)
	tanφ := math.Tan(φ)

	n := wgs84A / math.Sqrt(1-e2*sinφ*sinφ)
	t := tanφ * tanφ
	c := ep2 * cosφ * cosφ
	a := cosφ * dλ
	m := meridianArc(φ)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x := utmK0*n*(a+(1-t+c)*a3/6+(5-18*t+t*t+72*c-58*ep2)*a5/120) + falseE
	y := utmK0 * (m + n*tanφ*(a2/2+(5-t+9*c+4*c*c)*a4/24+(61-58*t+t*t+600*c-330*ep2)*a6/720))
	if !z.North {
		y += falseNS
	}
	return PlanarPoint{X: x, Y: y}
}

// FromPlanar converts a planar position in zone z back to geographic
// coordinates. It is the inverse of ToPlanar to well under a meter across
// the zone and its immediate neighbours.
func FromPlanar(z Zone, p PlanarPoint) GeoPoint {
	x := p.X - falseE
	y := p.Y
	if !z.North {
		y -= falseNS
	}

	μ := y / utmK0 / (wgs84A * m0)
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
	e1sq := e1 * e1

	φ1 := μ +
		(3*e1/2-27*e1sq*e1/32)*math.Sin(2*μ) +
		(21*e1sq/16-55*e1sq*e1sq/32)*math.Sin(4*μ) +
		(151*e1sq*e1/96)*math.Sin(6*μ) +
		(1097*e1sq*e1sq/512)*math.Sin(8*μ)

	sinφ1, cosφ1 := math.Sin(φ1), math.Cos(φ1)
	tanφ1 := math.Tan(φ1)

	c1 := ep2 * cosφ1 * cosφ1
	t1 := tanφ1 * tanφ1
	n1 := wgs84A / math.Sqrt(1-e2*sinφ1*sinφ1)
	r1 := wgs84A * (1 - e2) / math.Pow(1-e2*sinφ1*sinφ1, 1.5)
	d := x / (n1 * utmK0)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	φ := φ1 - (n1*tanφ1/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d6/720)
	λ := (d - (1+2*t1+c1)*d3/6 + (5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d5/120) / cosφ1

	return GeoPoint{
		Lat: radToDeg(φ),
		Lon: NormalizeLon(z.CentralMeridian() + radToDeg(λ)),
	}
}

func meridianArc(φ float64) float64 {
	return wgs84A * (m0*φ - m2*math.Sin(2*φ) + m4*math.Sin(4*φ) - m6*math.Sin(6*φ))
}

// centroid averages the points as unit vectors so the antimeridian needs no
// special casing.
func centroid(points []GeoPoint) GeoPoint {
	var x, y, z float64
	for _, p := range points {
		φ, λ := degToRad(p.Lat), degToRad(p.Lon)
		x += math.Cos(φ) * math.Cos(λ)
		y += math.Cos(φ) * math.Sin(λ)
		z += math.Sin(φ)
	}
	if x == 0 && y == 0 && z == 0 {
		return points[0]
	}
	return GeoPoint{
		Lat: radToDeg(math.Atan2(z, math.Hypot(x, y))),
		Lon: NormalizeLon(radToDeg(math.Atan2(y, x))),
	}
}

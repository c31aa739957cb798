package geo

import "math"

// ─── Eligibility area ───────────────────────────────────────

const (
	// FocusTolerance is the planar radius, in meters, around each focus that
	// always counts as eligible. It absorbs projection round-off and defines
	// the degenerate (zero-tolerance) area.
	FocusTolerance = 1.0

	// DefaultPolygonSegments is the boundary resolution used by Polygon and
	// Overlaps when the caller does not choose one.
	DefaultPolygonSegments = 64

	containsSlack = 1e-9
)

// EligibilityArea is the ellipse of all points a driver can visit on the way
// from Origin to Destination without adding more than the detour tolerance.
// It is derived on demand and never persisted.
type EligibilityArea struct {
	Origin      GeoPoint
	Destination GeoPoint

	Zone        Zone
	FocusA      PlanarPoint
	FocusB      PlanarPoint
	Center      PlanarPoint
	SemiMajor   float64
	SemiMinor   float64
	Orientation float64 // major axis angle in the planar frame, radians

	// Degenerate areas (no positive tolerance) admit only the two foci.
	Degenerate bool
}

// BuildEllipse builds the eligibility area with foci a and b whose sum of
// focal distances is |ab| + extraDistance. rotation turns the ellipse about
// its centre on top of the focal axis; pass 0 for the exact detour locus.
//
// Complexity: O(1)
func BuildEllipse(a, b GeoPoint, extraDistance, rotation float64) EligibilityArea {
	zone, _ := NearestZone(a, b)
	pa, pb := ToPlanar(zone, a), ToPlanar(zone, b)

	area := EligibilityArea{
		Origin:      a,
		Destination: b,
		Zone:        zone,
		FocusA:      pa,
		FocusB:      pb,
		Center:      PlanarPoint{X: (pa.X + pb.X) / 2, Y: (pa.Y + pb.Y) / 2},
		Orientation: math.Atan2(pb.Y-pa.Y, pb.X-pa.X) + rotation,
	}

	c := pa.Dist(pb) / 2
	if !(extraDistance > 0) {
		area.Degenerate = true
		area.SemiMajor = c
		return area
	}

	area.SemiMajor = c + extraDistance/2
	area.SemiMinor = math.Sqrt(area.SemiMajor*area.SemiMajor - c*c)
	if area.SemiMinor == 0 {
		area.Degenerate = true
	}
	return area
}

// Contains reports whether p lies inside the area. p is projected into the
// area's own zone before the ellipse inequality is tested.
func (e EligibilityArea) Contains(p GeoPoint) bool {
	return e.containsPlanar(ToPlanar(e.Zone, p))
}

func (e EligibilityArea) containsPlanar(q PlanarPoint) bool {
	if q.Dist(e.FocusA) <= FocusTolerance || q.Dist(e.FocusB) <= FocusTolerance {
		return true
	}
	if e.Degenerate {
		return false
	}
	x, y := e.toLocal(q)
	v := (x*x)/(e.SemiMajor*e.SemiMajor) + (y*y)/(e.SemiMinor*e.SemiMinor)
	return v <= 1+containsSlack
}

// Polygon returns the area's boundary as geographic points. A degenerate
// area yields its two foci.
func (e EligibilityArea) Polygon(segments int) []GeoPoint {
	if e.Degenerate {
		return []GeoPoint{e.Origin, e.Destination}
	}
	ring := e.planarRing(segments)
	out := make([]GeoPoint, len(ring))
	for i, q := range ring {
		out[i] = FromPlanar(e.Zone, q)
	}
	return out
}

// Overlaps reports whether the two areas share at least one point. Both
// boundaries are expressed in e's zone and compared with a separating-axis
// test on their polygonal approximations.
func (e EligibilityArea) Overlaps(other EligibilityArea) bool {
	if e.Degenerate {
		return other.Contains(e.Origin) || other.Contains(e.Destination)
	}
	if other.Degenerate {
		return e.Contains(other.Origin) || e.Contains(other.Destination)
	}

	mine := e.planarRing(DefaultPolygonSegments)
	theirs := make([]PlanarPoint, 0, DefaultPolygonSegments)
	if other.Zone == e.Zone {
		theirs = other.planarRing(DefaultPolygonSegments)
	} else {
		for _, g := range other.Polygon(DefaultPolygonSegments) {
			theirs = append(theirs, ToPlanar(e.Zone, g))
		}
	}
	return convexIntersect(mine, theirs)
}

// ─── Detour tolerance ───────────────────────────────────────

// DetourTolerance turns a driver's detour limits into a single extra
// distance in meters. A time limit is converted at speedMps. When both
// limits are set the more restrictive one wins; when neither is set the
// tolerance is 0.
func DetourTolerance(meters float64, seconds float64, speedMps float64) float64 {
	limit := math.Inf(1)
	if meters > 0 {
		limit = meters
	}
	if seconds > 0 && speedMps > 0 {
		limit = math.Min(limit, seconds*speedMps)
	}
	if math.IsInf(limit, 1) {
		return 0
	}
	return limit
}

// ─── Helpers ────────────────────────────────────────────────

func (e EligibilityArea) toLocal(q PlanarPoint) (float64, float64) {
	dx, dy := q.X-e.Center.X, q.Y-e.Center.Y
	sin, cos := math.Sincos(-e.Orientation)
	return dx*cos - dy*sin, dx*sin + dy*cos
}

func (e EligibilityArea) planarRing(segments int) []PlanarPoint {
	if segments < 8 {
		segments = DefaultPolygonSegments
	}
	sin, cos := math.Sincos(e.Orientation)
	ring := make([]PlanarPoint, segments)
	for i := range ring {
		t := 2 * math.Pi * float64(i) / float64(segments)
		x := e.SemiMajor * math.Cos(t)
		y := e.SemiMinor * math.Sin(t)
		ring[i] = PlanarPoint{
			X: e.Center.X + x*cos - y*sin,
			Y: e.Center.Y + x*sin + y*cos,
		}
	}
	return ring
}

// convexIntersect is the separating-axis test for two convex polygons.
func convexIntersect(p, q []PlanarPoint) bool {
	for _, poly := range [][]PlanarPoint{p, q} {
		for i := range poly {
			a, b := poly[i], poly[(i+1)%len(poly)]
			nx, ny := b.Y-a.Y, a.X-b.X
			if nx == 0 && ny == 0 {
				continue
			}
			pMin, pMax := project(p, nx, ny)
			qMin, qMax := project(q, nx, ny)
			if pMax < qMin || qMax < pMin {
				return false
			}
		}
	}
	return true
}

func project(poly []PlanarPoint, nx, ny float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range poly {
		d := v.X*nx + v.Y*ny
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

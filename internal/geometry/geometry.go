package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Projection is the nearest point on a polyline to some query point.
type Projection struct {
	Point    orb.Point
	Segment  int     // index of the segment's first vertex
	T        float64 // 0..1 position within the segment
	Distance float64 // meters from the query point
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

// Bearing returns the initial great-circle bearing from a to b in degrees (0-360).
func Bearing(a, b orb.Point) float64 {
	return Normalize(geo.Bearing(a, b))
}

// Destination returns the point reached by travelling meters from p along bearing.
func Destination(p orb.Point, bearing, meters float64) orb.Point {
	return geo.PointAtBearingAndDistance(p, Normalize(bearing), meters)
}

// Normalize maps any angle in degrees onto [0, 360).
func Normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Lerp interpolates lon and lat independently.
func Lerp(a, b orb.Point, f float64) orb.Point {
	return orb.Point{
		a[0] + (b[0]-a[0])*f,
		a[1] + (b[1]-a[1])*f,
	}
}

// Clamp constrains v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NearestOnSegment projects p onto segment a-b using an equirectangular frame
// centred on p. Returns the projected point and its fraction along the segment.
func NearestOnSegment(p, a, b orb.Point) (orb.Point, float64) {
	cosLat := math.Cos(p[1] * math.Pi / 180)
	toXY := func(q orb.Point) (x, y float64) {
		x = (q[0] - p[0]) * cosLat
		y = q[1] - p[1]
		return
	}
	x0, y0 := toXY(a)
	x1, y1 := toXY(b)
	dx := x1 - x0
	dy := y1 - y0
	segLen2 := dx*dx + dy*dy
	t := 0.0
	if segLen2 > 0 {
		t = Clamp(-(x0*dx+y0*dy)/segLen2, 0, 1)
	}
	return Lerp(a, b, t), t
}

// NearestOnLine finds the globally closest point on line to p across all
// consecutive vertex pairs. On equal distances the earlier segment wins.
// Returns false for an empty line.
func NearestOnLine(p orb.Point, line orb.LineString) (Projection, bool) {
	switch len(line) {
	case 0:
		return Projection{}, false
	case 1:
		return Projection{Point: line[0], Distance: Distance(p, line[0])}, true
	}
	best := Projection{Distance: math.MaxFloat64}
	for i := 1; i < len(line); i++ {
		q, t := NearestOnSegment(p, line[i-1], line[i])
		d := Distance(p, q)
		if d < best.Distance {
			best = Projection{Point: q, Segment: i - 1, T: t, Distance: d}
		}
	}
	return best, true
}

// Package geo provides the 2D point math shared by the routing graph,
// the analytics grid, and agent movement. All simulation positions live
// in normalized unit space: x and y in [0, 1].
package geo

import "math"

// Point is a position in normalized unit space.
type Point struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Interpolate returns the point a fraction ratio of the way from a to b.
// ratio 0 returns a, ratio 1 returns b.
func Interpolate(a, b Point, ratio float64) Point {
	return Point{
		X: a.X + (b.X-a.X)*ratio,
		Y: a.Y + (b.Y-a.Y)*ratio,
	}
}

// StepToward moves from cur at most maxDist toward target.
// Returns the new position and whether the target was reached.
// If the remaining distance is within maxDist the target itself is
// returned, otherwise the position is linearly interpolated.
func StepToward(cur, target Point, maxDist float64) (Point, bool) {
	d := Distance(cur, target)
	if d <= maxDist {
		return target, true
	}
	return Interpolate(cur, target, maxDist/d), false
}

// Bounds maps geographic latitude/longitude ranges onto unit space.
type Bounds struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Normalize converts a lat/lon pair to a unit-space point.
func (b Bounds) Normalize(lat, lon float64) Point {
	return Point{
		X: (lon - b.LonMin) / (b.LonMax - b.LonMin),
		Y: (lat - b.LatMin) / (b.LatMax - b.LatMin),
	}
}

// Denormalize converts a unit-space point back to lat/lon.
func (b Bounds) Denormalize(p Point) (lat, lon float64) {
	lat = p.Y*(b.LatMax-b.LatMin) + b.LatMin
	lon = p.X*(b.LonMax-b.LonMin) + b.LonMin
	return lat, lon
}

package planting

import "math"

// Coord addresses a page in the world grid or a block inside its page.
type Coord struct {
	X, Z int
}

type Point struct {
	X, Z float64
}

func (p Point) DistSq(o Point) float64 {
	dx := p.X - o.X
	dz := p.Z - o.Z
	return dx*dx + dz*dz
}

// Rect is a half-open rectangle [XMin, XMax) × [ZMin, ZMax).
type Rect struct {
	XMin, ZMin, XMax, ZMax float64
}

func (r Rect) Width() float64  { return r.XMax - r.XMin }
func (r Rect) Height() float64 { return r.ZMax - r.ZMin }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

func (r Rect) Center() Point {
	return Point{X: (r.XMin + r.XMax) / 2, Z: (r.ZMin + r.ZMax) / 2}
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.XMin && p.X < r.XMax && p.Z >= r.ZMin && p.Z < r.ZMax
}

// objectCount is the sampling budget for a rectangle.
func objectCount(r Rect, multiplier float64) int {
	if multiplier <= 0 || r.Area() <= 0 {
		return 0
	}
	return int(math.Ceil(r.Area() * multiplier))
}

package planting

import (
	"errors"
	"math"
	"math/rand"
)

var (
	ErrDegenerateDomain = errors.New("planting: poisson domain must have positive width and height")
	ErrInvalidDistance  = errors.New("planting: poisson minimum distance must be positive")
	ErrTooManyCells     = errors.New("planting: poisson acceleration grid too large")
)

const (
	DefaultRejectionLimit = 30
	maxSamplerCells       = 1 << 22
)

// PoissonSampler produces blue-noise points no closer than MinDistance using
// Bridson's algorithm.
type PoissonSampler struct {
	MinDistance    float64
	RejectionLimit int
}

// Sample fills domain with points. The result is a maximal packing within the
// rejection limit, so its size is not known in advance.
func (s PoissonSampler) Sample(rng *rand.Rand, domain Rect) ([]Point, error) {
	if !(s.MinDistance > 0) {
		return nil, ErrInvalidDistance
	}
	width, height := domain.Width(), domain.Height()
	if !(width > 0) || !(height > 0) {
		return nil, ErrDegenerateDomain
	}
	limit := s.RejectionLimit
	if limit <= 0 {
		limit = DefaultRejectionLimit
	}

	cellSize := s.MinDistance / math.Sqrt2
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	if float64(cols)*float64(rows) > maxSamplerCells {
		return nil, ErrTooManyCells
	}

	cells := make([]int, cols*rows)
	for i := range cells {
		cells[i] = -1
	}
	points := make([]Point, 0, cols*rows/4+1)
	active := make([]int, 0, 64)
	minSq := s.MinDistance * s.MinDistance

	cellOf := func(p Point) (int, int) {
		cx := int((p.X - domain.XMin) / cellSize)
		cz := int((p.Z - domain.ZMin) / cellSize)
		return clampInt(cx, 0, cols-1), clampInt(cz, 0, rows-1)
	}

	fits := func(p Point) bool {
		if !domain.Contains(p) {
			return false
		}
		cx, cz := cellOf(p)
		for dz := -2; dz <= 2; dz++ {
			nz := cz + dz
			if nz < 0 || nz >= rows {
				continue
			}
			for dx := -2; dx <= 2; dx++ {
				nx := cx + dx
				if nx < 0 || nx >= cols {
					continue
				}
				if idx := cells[nz*cols+nx]; idx >= 0 && points[idx].DistSq(p) < minSq {
					return false
				}
			}
		}
		return true
	}

	insert := func(p Point) {
		idx := len(points)
		points = append(points, p)
		active = append(active, idx)
		cx, cz := cellOf(p)
		cells[cz*cols+cx] = idx
	}

	insert(Point{X: domain.XMin + rng.Float64()*width, Z: domain.ZMin + rng.Float64()*height})

	for len(active) > 0 {
		ai := rng.Intn(len(active))
		origin := points[active[ai]]

		accepted := false
		for k := 0; k < limit; k++ {
			angle := rng.Float64() * 2 * math.Pi
			dist := s.MinDistance * (1 + rng.Float64())
			candidate := Point{
				X: origin.X + dist*math.Cos(angle),
				Z: origin.Z + dist*math.Sin(angle),
			}
			if fits(candidate) {
				insert(candidate)
				accepted = true
				break
			}
		}
		if !accepted {
			active[ai] = active[len(active)-1]
			active = active[:len(active)-1]
		}
	}
	return points, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package terrain

import (
	"context"
	"errors"
	"fmt"
	"math"

	"biomonkey/internal/density"
)

var ErrHeightSize = errors.New("terrain: height map needs at least 2x2 samples")

// MapBlock is the raster data backing one page. All fields are immutable once
// published by a provider; any of the density maps may be nil.
type MapBlock struct {
	X, Z    int
	Heights *HeightMap
	Alpha   *density.Map
	Biotope *density.Map
	Soil    *density.Map
}

// ApproxBytes estimates the memory held by the block, used as its cache cost.
func (b *MapBlock) ApproxBytes() int64 {
	var total int64
	if b.Heights != nil {
		total += int64(len(b.Heights.values)) * 4
	}
	for _, m := range []*density.Map{b.Alpha, b.Biotope, b.Soil} {
		if m != nil {
			total += int64(m.ImageSize()*m.ImageSize()*m.Depth()) * 4
		}
	}
	if total == 0 {
		total = 1
	}
	return total
}

// MapProvider supplies page rasters. A false result means the page has no data
// yet and should be asked for again later.
type MapProvider interface {
	Maps(ctx context.Context, x, z int) (*MapBlock, bool, error)
}

// HeightMap is a square grid of height samples spanning a page edge to edge.
type HeightMap struct {
	size     int
	pageSize float64
	spacing  float64
	values   []float32
}

func NewHeightMap(size int, pageSize float64, values []float32) (*HeightMap, error) {
	if size < 2 {
		return nil, ErrHeightSize
	}
	if len(values) != size*size {
		return nil, fmt.Errorf("terrain: height map has %d samples, want %d", len(values), size*size)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("terrain: page size must be positive")
	}
	dup := make([]float32, len(values))
	copy(dup, values)
	return &HeightMap{
		size:     size,
		pageSize: pageSize,
		spacing:  pageSize / float64(size-1),
		values:   dup,
	}, nil
}

func (h *HeightMap) Size() int { return h.size }

// Height returns the bilinearly interpolated height at page-local (x, z).
func (h *HeightMap) Height(x, z float64) float64 {
	fx := clampFloat(x/h.spacing, 0, float64(h.size-1))
	fz := clampFloat(z/h.spacing, 0, float64(h.size-1))
	x0 := int(math.Floor(fx))
	z0 := int(math.Floor(fz))
	x1 := minInt(x0+1, h.size-1)
	z1 := minInt(z0+1, h.size-1)
	tx := fx - float64(x0)
	tz := fz - float64(z0)

	top := lerp(h.at(x0, z0), h.at(x1, z0), tx)
	bottom := lerp(h.at(x0, z1), h.at(x1, z1), tx)
	return lerp(top, bottom, tz)
}

// Slope returns the terrain inclination in degrees at page-local (x, z).
func (h *HeightMap) Slope(x, z float64) float64 {
	s := h.spacing
	gx := (h.Height(x+s, z) - h.Height(x-s, z)) / (2 * s)
	gz := (h.Height(x, z+s) - h.Height(x, z-s)) / (2 * s)
	return math.Atan(math.Hypot(gx, gz)) * 180 / math.Pi
}

func (h *HeightMap) at(x, z int) float64 {
	return float64(h.values[z*h.size+x])
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Package density holds the raster density maps that drive vegetation placement.
//
// A Map covers one page. Values are stored per texel and per layer in [0, 1] and
// never change after construction; publishing different densities means building
// a new Map.
package density

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	ErrInvalidSize  = errors.New("density: image size and depth must be positive")
	ErrInvalidScale = errors.New("density: page size must be positive")
	ErrValueCount   = errors.New("density: value count does not match size")
	ErrLayer        = errors.New("density: layer out of range")
)

// Option customises a Map at construction.
type Option func(*Map)

// FlipX mirrors lookups along x (x' = pageSize - x).
func FlipX() Option { return func(m *Map) { m.flipX = true } }

// FlipZ mirrors lookups along z (z' = pageSize - z).
func FlipZ() Option { return func(m *Map) { m.flipZ = true } }

type Map struct {
	imageSize int
	depth     int
	pageSize  float64
	scale     float64
	flipX     bool
	flipZ     bool
	values    []float32
}

// New builds a map from row-major values laid out as ((z*imageSize)+x)*depth + layer.
// The slice is copied.
func New(imageSize, depth int, pageSize float64, values []float32, opts ...Option) (*Map, error) {
	if imageSize <= 0 || depth <= 0 {
		return nil, ErrInvalidSize
	}
	if pageSize <= 0 || math.IsNaN(pageSize) || math.IsInf(pageSize, 0) {
		return nil, ErrInvalidScale
	}
	want := imageSize * imageSize * depth
	if len(values) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrValueCount, len(values), want)
	}
	m := &Map{
		imageSize: imageSize,
		depth:     depth,
		pageSize:  pageSize,
		scale:     float64(imageSize) / pageSize,
		values:    make([]float32, want),
	}
	for i, v := range values {
		m.values[i] = clamp01(v)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Uniform builds a map where every texel of every layer holds value.
func Uniform(imageSize, depth int, pageSize float64, value float32, opts ...Option) (*Map, error) {
	if imageSize <= 0 || depth <= 0 {
		return nil, ErrInvalidSize
	}
	values := make([]float32, imageSize*imageSize*depth)
	for i := range values {
		values[i] = value
	}
	return New(imageSize, depth, pageSize, values, opts...)
}

// FromImage converts an image into a map with one layer per RGBA channel.
// The image must be square.
func FromImage(img image.Image, pageSize float64, opts ...Option) (*Map, error) {
	if img == nil {
		return nil, ErrInvalidSize
	}
	b := img.Bounds()
	if b.Dx() != b.Dy() || b.Dx() == 0 {
		return nil, fmt.Errorf("%w: image is %dx%d", ErrInvalidSize, b.Dx(), b.Dy())
	}
	size := b.Dx()
	const depth = 4
	values := make([]float32, size*size*depth)
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+z).RGBA()
			idx := (z*size + x) * depth
			values[idx] = float32(r) / 0xffff
			values[idx+1] = float32(g) / 0xffff
			values[idx+2] = float32(bl) / 0xffff
			values[idx+3] = float32(a) / 0xffff
		}
	}
	return New(size, depth, pageSize, values, opts...)
}

func (m *Map) ImageSize() int    { return m.imageSize }
func (m *Map) Depth() int        { return m.depth }
func (m *Map) PageSize() float64 { return m.pageSize }
func (m *Map) Scale() float64    { return m.scale }

// Unfiltered returns the nearest texel value of layer at page-local (x, z).
//
// The z index is clamped to [0, imageSize-1]; the x index is only clamped from
// below, so an x index past the end of a row reads the start of the next row.
// Indices past the end of the raster land on the last texel.
func (m *Map) Unfiltered(x, z float64, layer int) float64 {
	if layer < 0 || layer >= m.depth {
		return 0
	}
	return float64(m.values[m.texel(x, z)*m.depth+layer])
}

// UnfilteredAll writes every layer's value at (x, z) into dst, growing it as needed.
func (m *Map) UnfilteredAll(x, z float64, dst []float64) []float64 {
	if cap(dst) < m.depth {
		dst = make([]float64, m.depth)
	}
	dst = dst[:m.depth]
	base := m.texel(x, z) * m.depth
	for layer := 0; layer < m.depth; layer++ {
		dst[layer] = float64(m.values[base+layer])
	}
	return dst
}

// CheckLayer returns ErrLayer when layer is not stored in the map.
func (m *Map) CheckLayer(layer int) error {
	if layer < 0 || layer >= m.depth {
		return fmt.Errorf("%w: %d (depth %d)", ErrLayer, layer, m.depth)
	}
	return nil
}

func (m *Map) texel(x, z float64) int {
	if m.flipZ {
		z = m.pageSize - z
	}
	if m.flipX {
		x = m.pageSize - x
	}
	xi := int(math.Floor(x * m.scale))
	if xi < 0 {
		xi = 0
	}
	zi := int(math.Floor(z * m.scale))
	if zi < 0 {
		zi = 0
	} else if zi > m.imageSize-1 {
		zi = m.imageSize - 1
	}
	idx := zi*m.imageSize + xi
	if last := m.imageSize*m.imageSize - 1; idx > last {
		idx = last
	}
	return idx
}

func clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

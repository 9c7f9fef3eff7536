package planting

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"biomonkey/internal/density"
	"biomonkey/internal/terrain"
)

var ErrUnknownTexture = errors.New("planting: texture index not registered in density map")

// RecordSize is the number of float32 values per placement record.
const RecordSize = 5

// Placements is a flat sequence of records: x, y, z, scale seed, rotation.
// x and z are relative to the block centre; y is always 0.
type Placements []float32

type Record struct {
	X, Y, Z  float32
	Scale    float32
	Rotation float32
}

func (p Placements) Len() int { return len(p) / RecordSize }

func (p Placements) Record(i int) Record {
	r := p[i*RecordSize : i*RecordSize+RecordSize]
	return Record{X: r[0], Y: r[1], Z: r[2], Scale: r[3], Rotation: r[4]}
}

// SlopeSampler reports terrain inclination in degrees at page-local (x, z).
type SlopeSampler interface {
	Slope(x, z float64) float64
}

// Request describes one block/layer planting job. Bounds are page-local.
type Request struct {
	Page    Coord
	Block   Coord
	Bounds  Rect
	Density *density.Map
	Slopes  SlopeSampler
	Layer   *Layer
}

// Planter turns density maps into placements. It holds only immutable state
// and may be shared between workers.
type Planter struct {
	table  RandomTable
	perlin *terrain.Perlin
}

func NewPlanter(worldSeed int64) *Planter {
	return &Planter{
		table:  NewRandomTable(worldSeed),
		perlin: terrain.NewPerlin(worldSeed),
	}
}

func (p *Planter) Table() RandomTable { return p.table }

func (p *Planter) Plant(req Request) (Placements, error) {
	if req.Layer == nil {
		return nil, errors.New("planting: request has no layer")
	}
	if req.Density == nil {
		return nil, fmt.Errorf("planting: layer %d has no density map", req.Layer.ID)
	}
	for _, tex := range req.Layer.Textures {
		if err := req.Density.CheckLayer(tex); err != nil {
			return nil, fmt.Errorf("%w: layer %d (%s): %v", ErrUnknownTexture, req.Layer.ID, req.Layer.Name, err)
		}
	}

	rng := p.table.Rand(req.Page, req.Block, req.Layer.ID)
	budget := objectCount(req.Bounds, req.Layer.DensityMultiplier)
	if budget == 0 {
		return Placements{}, nil
	}

	s := sampler{req: req, rng: rng, perlin: p.perlin, out: make(Placements, 0, budget*RecordSize)}
	switch req.Layer.Strategy {
	case Uniform:
		s.uniform(budget, false)
	case Perlin:
		s.uniform(budget, true)
	case Poisson:
		if err := s.poisson(budget); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, req.Layer.Strategy)
	}
	return s.out[:len(s.out):len(s.out)], nil
}

type sampler struct {
	req    Request
	rng    *rand.Rand
	perlin *terrain.Perlin
	out    Placements
	buf    []float64
}

func (s *sampler) uniform(budget int, noise bool) {
	b := s.req.Bounds
	for i := 0; i < budget; i++ {
		x := b.XMin + s.rng.Float64()*b.Width()
		z := b.ZMin + s.rng.Float64()*b.Height()
		s.try(x, z, noise)
	}
}

func (s *sampler) poisson(budget int) error {
	l := s.req.Layer
	points, err := PoissonSampler{
		MinDistance:    l.PoissonMinDistance,
		RejectionLimit: l.PoissonRejectionLimit,
	}.Sample(s.rng, s.req.Bounds)
	if err != nil {
		return fmt.Errorf("layer %d (%s): %w", l.ID, l.Name, err)
	}
	if len(points) < budget {
		budget = len(points)
	}
	for _, pt := range points[:budget] {
		s.try(pt.X, pt.Z, false)
	}
	return nil
}

// try runs the acceptance test at page-local (x, z) and records the sample if
// it passes.
func (s *sampler) try(x, z float64, noise bool) {
	l := s.req.Layer
	d := l.response(s.density(x, z))
	if noise {
		d *= s.noise(x, z)
	}
	if s.rng.Float64()+l.Threshold >= d {
		return
	}
	if l.MaxSlope > 0 && s.req.Slopes != nil && s.req.Slopes.Slope(x, z) > l.MaxSlope {
		return
	}
	center := s.req.Bounds.Center()
	scale := s.rng.Float32()
	rotation := math.Pi/2 - s.rng.Float64()*math.Pi
	s.out = append(s.out, float32(x-center.X), 0, float32(z-center.Z), scale, float32(rotation))
}

// density is the strongest value over the layer's textures.
func (s *sampler) density(x, z float64) float64 {
	s.buf = s.req.Density.UnfilteredAll(x, z, s.buf[:0])
	best := 0.0
	for _, tex := range s.req.Layer.Textures {
		if v := s.buf[tex]; v > best {
			best = v
		}
	}
	return best
}

func (s *sampler) noise(x, z float64) float64 {
	l := s.req.Layer
	pageSize := s.req.Density.PageSize()
	wx := (float64(s.req.Page.X)*pageSize + x) * l.NoiseScale
	wz := (float64(s.req.Page.Z)*pageSize + z) * l.NoiseScale
	n := s.perlin.Noise01(wx, wz)
	if l.InvertNoise {
		return 1 - n
	}
	return n
}

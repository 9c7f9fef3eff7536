package terrain

import (
	"math"

	"biomonkey/internal/config"
)

// FractalNoise produces repeatable value noise summed over octaves.
// It holds no mutable state and is safe for concurrent use.
type FractalNoise struct {
	cfg  config.TerrainConfig
	seed int64
}

func NewFractalNoise(cfg config.TerrainConfig, seed int64) *FractalNoise {
	return &FractalNoise{cfg: cfg, seed: seed}
}

// At returns noise in [-1, 1] at world position (x, z).
func (n *FractalNoise) At(x, z float64) float64 {
	frequency := n.cfg.Frequency
	amplitude := 1.0
	noiseSum := 0.0
	maxAmplitude := 0.0

	for i := 0; i < n.cfg.Octaves; i++ {
		noiseSum += n.valueNoise(x*frequency, z*frequency) * amplitude
		maxAmplitude += amplitude
		amplitude *= n.cfg.Persistence
		frequency *= n.cfg.Lacunarity
	}

	if maxAmplitude == 0 {
		return 0
	}
	return noiseSum / maxAmplitude
}

func (n *FractalNoise) valueNoise(x, z float64) float64 {
	x0 := int(math.Floor(x))
	z0 := int(math.Floor(z))
	x1 := x0 + 1
	z1 := z0 + 1

	sx := smooth(x - float64(x0))
	sz := smooth(z - float64(z0))

	ix0 := lerp(random2D(x0, z0, n.seed), random2D(x1, z0, n.seed), sx)
	ix1 := lerp(random2D(x0, z1, n.seed), random2D(x1, z1, n.seed), sx)
	return lerp(ix0, ix1, sz)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func fade(t float64) float64 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func random2D(x, z int, seed int64) float64 {
	return float64(hash3(x, z, int(seed))&0xFFFF)/0x8000 - 1.0
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}

// Perlin is gradient noise over a seeded permutation table. Read-only after
// construction.
type Perlin struct {
	perm [512]uint8
}

func NewPerlin(seed int64) *Perlin {
	var base [256]uint8
	for i := range base {
		base[i] = uint8(i)
	}
	s := uint64(seed)
	for i := 255; i > 0; i-- {
		s = s*6364136223846793005 + 1442695040888963407
		j := int((s >> 33) % uint64(i+1))
		base[i], base[j] = base[j], base[i]
	}
	p := &Perlin{}
	for i := 0; i < 256; i++ {
		p.perm[i] = base[i]
		p.perm[i+256] = base[i]
	}
	return p
}

// Noise2D returns gradient noise in roughly [-1, 1].
func (p *Perlin) Noise2D(x, z float64) float64 {
	fx := math.Floor(x)
	fz := math.Floor(z)
	xi := int(fx) & 255
	zi := int(fz) & 255
	x -= fx
	z -= fz

	u := fade(x)
	v := fade(z)

	aa := p.perm[int(p.perm[xi])+zi]
	ab := p.perm[int(p.perm[xi])+zi+1]
	ba := p.perm[int(p.perm[xi+1])+zi]
	bb := p.perm[int(p.perm[xi+1])+zi+1]

	x1 := lerp(grad2D(aa, x, z), grad2D(ba, x-1, z), u)
	x2 := lerp(grad2D(ab, x, z-1), grad2D(bb, x-1, z-1), u)
	return lerp(x1, x2, v)
}

// Noise01 maps Noise2D into [0, 1].
func (p *Perlin) Noise01(x, z float64) float64 {
	v := (p.Noise2D(x, z) + 1) * 0.5
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func grad2D(hash uint8, x, z float64) float64 {
	switch hash & 3 {
	case 0:
		return x + z
	case 1:
		return -x + z
	case 2:
		return x - z
	default:
		return -x - z
	}
}

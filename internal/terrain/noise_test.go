package terrain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"biomonkey/internal/config"
)

func TestFractalNoiseDeterministicForRandomWorldLocations(t *testing.T) {
	cfg := config.TerrainConfig{
		Seed:        424242,
		Frequency:   0.002,
		Amplitude:   128,
		Octaves:     3,
		Persistence: 0.5,
		Lacunarity:  2.0,
	}
	a := NewFractalNoise(cfg, cfg.Seed)
	b := NewFractalNoise(cfg, cfg.Seed)

	rnd := rand.New(rand.NewSource(1337))
	for i := 0; i < 1000; i++ {
		x := float64(rnd.Intn(2_000_001) - 1_000_000)
		z := float64(rnd.Intn(2_000_001) - 1_000_000)
		na, nb := a.At(x, z), b.At(x, z)
		require.Equal(t, na, nb, "location %d (%v,%v)", i, x, z)
		require.GreaterOrEqual(t, na, -1.0)
		require.LessOrEqual(t, na, 1.0)
	}
}

func TestFractalNoiseZeroOctaves(t *testing.T) {
	n := NewFractalNoise(config.TerrainConfig{Frequency: 1}, 1)
	require.Zero(t, n.At(3, 4))
}

func TestPerlinRangeAndDeterminism(t *testing.T) {
	a := NewPerlin(7)
	b := NewPerlin(7)
	c := NewPerlin(8)

	differs := false
	for i := 0; i < 500; i++ {
		x := float64(i) * 0.37
		z := float64(i) * 0.91
		v := a.Noise01(x, z)
		require.Equal(t, v, b.Noise01(x, z))
		require.GreaterOrEqual(t, v, 0.0)
		require.LessOrEqual(t, v, 1.0)
		if v != c.Noise01(x, z) {
			differs = true
		}
	}
	require.True(t, differs, "different seeds should give different noise")
}

func TestPerlinZeroAtLatticePoints(t *testing.T) {
	p := NewPerlin(3)
	for x := -3; x <= 3; x++ {
		for z := -3; z <= 3; z++ {
			require.InDelta(t, 0, p.Noise2D(float64(x), float64(z)), 1e-12)
		}
	}
}

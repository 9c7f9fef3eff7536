package terrain

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"biomonkey/internal/config"
)

func TestHeightMapInterpolatesAndMeasuresSlope(t *testing.T) {
	// Plane rising 1 unit per unit along x over a 4x4 grid spanning 3 units.
	values := make([]float32, 16)
	for z := 0; z < 4; z++ {
		for x := 0; x < 4; x++ {
			values[z*4+x] = float32(x)
		}
	}
	h, err := NewHeightMap(4, 3, values)
	require.NoError(t, err)

	require.InDelta(t, 1.5, h.Height(1.5, 0.7), 1e-9)
	require.InDelta(t, 0.0, h.Height(-5, 0), 1e-9)
	require.InDelta(t, 3.0, h.Height(50, 2), 1e-9)
	require.InDelta(t, 45.0, h.Slope(1.5, 1.5), 1e-9)
}

func TestNewHeightMapRejectsBadInput(t *testing.T) {
	_, err := NewHeightMap(1, 10, []float32{0})
	require.ErrorIs(t, err, ErrHeightSize)

	_, err = NewHeightMap(2, 10, []float32{0, 1, 2})
	require.Error(t, err)
}

func testTerrainConfig() config.TerrainConfig {
	cfg := config.Default().Terrain
	cfg.MapSize = 8
	return cfg
}

func TestNoiseProviderProducesDeterministicMaps(t *testing.T) {
	cfg := testTerrainConfig()
	p := NewNoiseProvider(cfg, 64)

	a, ok, err := p.Maps(context.Background(), 2, -3)
	require.NoError(t, err)
	require.True(t, ok)
	b, _, err := NewNoiseProvider(cfg, 64).Maps(context.Background(), 2, -3)
	require.NoError(t, err)

	require.Equal(t, 2, a.X)
	require.Equal(t, -3, a.Z)
	require.Equal(t, cfg.BiotopeLayers, a.Biotope.Depth())
	require.Equal(t, 3, a.Alpha.Depth())
	require.Equal(t, 1, a.Soil.Depth())
	for _, pos := range [][2]float64{{1, 1}, {20, 40}, {63, 63}} {
		require.Equal(t, a.Heights.Height(pos[0], pos[1]), b.Heights.Height(pos[0], pos[1]))
		sum := 0.0
		for layer := 0; layer < 3; layer++ {
			v := a.Alpha.Unfiltered(pos[0], pos[1], layer)
			require.Equal(t, v, b.Alpha.Unfiltered(pos[0], pos[1], layer))
			sum += v
		}
		require.InDelta(t, 1.0, sum, 1e-5)

		soil := a.Soil.Unfiltered(pos[0], pos[1], 0)
		require.Equal(t, soil, b.Soil.Unfiltered(pos[0], pos[1], 0))
		require.GreaterOrEqual(t, soil, 0.0)
		require.LessOrEqual(t, soil, 1.0)
	}
}

func TestNoiseProviderRespectsWorldRadius(t *testing.T) {
	cfg := testTerrainConfig()
	cfg.WorldRadius = 1
	p := NewNoiseProvider(cfg, 64)

	_, ok, err := p.Maps(context.Background(), 1, -1)
	require.NoError(t, err)
	require.True(t, ok)

	block, ok, err := p.Maps(context.Background(), 2, 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, block)
}

func TestNoiseProviderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewNoiseProvider(testTerrainConfig(), 64).Maps(ctx, 0, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func writePNG(t *testing.T, path string, size int, c color.Color) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestImageProviderLoadsTiles(t *testing.T) {
	dir := t.TempDir()
	tile := TileDir(dir, -1, 4)
	writePNG(t, filepath.Join(tile, "alpha.png"), 4, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	writePNG(t, filepath.Join(tile, "biotope.png"), 4, color.NRGBA{R: 0, G: 255, B: 0, A: 255})
	writePNG(t, filepath.Join(tile, "height.png"), 4, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	p := NewImageProvider(dir, 32, config.TerrainConfig{Amplitude: 10})
	block, ok, err := p.Maps(context.Background(), -1, 4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, block.Soil)
	require.InDelta(t, 1.0, block.Alpha.Unfiltered(5, 5, 0), 1e-6)
	require.InDelta(t, 0.0, block.Alpha.Unfiltered(5, 5, 1), 1e-6)
	require.InDelta(t, 1.0, block.Biotope.Unfiltered(5, 5, 1), 1e-6)
	require.NotNil(t, block.Heights)
	require.InDelta(t, 10.0, block.Heights.Height(16, 16), 1e-3)
}

func TestImageProviderReportsMissingTile(t *testing.T) {
	p := NewImageProvider(t.TempDir(), 32, config.TerrainConfig{})
	block, ok, err := p.Maps(context.Background(), 0, 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, block)
}

func TestImageProviderRejectsCorruptImage(t *testing.T) {
	dir := t.TempDir()
	tile := TileDir(dir, 0, 0)
	require.NoError(t, os.MkdirAll(tile, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tile, "alpha.png"), []byte("not a png"), 0o644))

	_, _, err := NewImageProvider(dir, 32, config.TerrainConfig{}).Maps(context.Background(), 0, 0)
	require.Error(t, err)
}

type countingProvider struct {
	calls   atomic.Int32
	present bool
}

func (p *countingProvider) Maps(ctx context.Context, x, z int) (*MapBlock, bool, error) {
	p.calls.Add(1)
	if !p.present {
		return nil, false, nil
	}
	return &MapBlock{X: x, Z: z}, true, nil
}

func TestCachedProviderMemoisesPresentBlocks(t *testing.T) {
	inner := &countingProvider{present: true}
	p, err := NewCachedProvider(inner, config.MapCacheConfig{
		Enabled:     true,
		NumCounters: 1000,
		MaxCost:     1 << 20,
		TTL:         config.Duration(time.Minute),
	})
	require.NoError(t, err)
	defer p.Close()

	first, ok, err := p.Maps(context.Background(), 3, 3)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := p.Maps(context.Background(), 3, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, first, second)
	require.EqualValues(t, 1, inner.calls.Load())

	p.Invalidate()
	_, _, err = p.Maps(context.Background(), 3, 3)
	require.NoError(t, err)
	require.EqualValues(t, 2, inner.calls.Load())
}

func TestCachedProviderServesAfterClose(t *testing.T) {
	inner := &countingProvider{present: true}
	p, err := NewCachedProvider(inner, config.MapCacheConfig{NumCounters: 100, MaxCost: 1 << 20})
	require.NoError(t, err)

	_, ok, err := p.Maps(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, ok)

	p.Close()
	p.Close()
	p.Invalidate()
	for i := 0; i < 2; i++ {
		_, ok, err = p.Maps(context.Background(), 1, 1)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.EqualValues(t, 3, inner.calls.Load(), "a closed cache passes lookups through")
}

func TestCachedProviderDoesNotCacheAbsentPages(t *testing.T) {
	inner := &countingProvider{}
	p, err := NewCachedProvider(inner, config.MapCacheConfig{NumCounters: 100, MaxCost: 1 << 10})
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 3; i++ {
		_, ok, err := p.Maps(context.Background(), 0, 0)
		require.NoError(t, err)
		require.False(t, ok)
	}
	require.EqualValues(t, 3, inner.calls.Load())
}

func TestNewProviderSelectsImplementation(t *testing.T) {
	cfg := config.Default()
	cfg.MapCache.Enabled = false
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	require.IsType(t, &NoiseProvider{}, p)

	cfg.Terrain.Provider = "image"
	cfg.Storage.TextureFolder = t.TempDir()
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	require.IsType(t, &ImageProvider{}, p)

	cfg.MapCache.Enabled = true
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	require.IsType(t, &CachedProvider{}, p)
	p.(*CachedProvider).Close()
}

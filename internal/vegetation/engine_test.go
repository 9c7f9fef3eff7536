package vegetation

import (
	"context"
	"image/png"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"biomonkey/internal/config"
	"biomonkey/internal/paging"
	"biomonkey/internal/storage"
	"biomonkey/internal/terrain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paging.GridRadius = 0
	cfg.Terrain.MapSize = 16
	cfg.MapCache.Enabled = true
	cfg.Log.Level = "error"
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, opts EngineOptions) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	e, err := NewEngine(cfg, opts)
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

func waitLoaded(t *testing.T, e *Engine, x, z int, cond func(*paging.Page) bool) *paging.Page {
	t.Helper()
	viewX := (float64(x) + 0.5) * e.cfg.Paging.PageSize
	viewZ := (float64(z) + 0.5) * e.cfg.Paging.PageSize
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, e.Update(0, viewX, viewZ))
		if page, ok := e.Manager().Page(x, z); ok && page.Loaded() && (cond == nil || cond(page)) {
			return page
		}
		if time.Now().After(deadline) {
			t.Fatalf("page %d,%d not loaded, stats %+v", x, z, e.Manager().Stats())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineStreamsVegetation(t *testing.T) {
	e := newTestEngine(t, testConfig(t), EngineOptions{})
	page := waitLoaded(t, e, 0, 0, nil)

	require.Len(t, page.Blocks, 16)
	require.Greater(t, page.Instances(), 0)
	require.Len(t, e.Layers(), 3)

	for _, b := range page.Blocks {
		for _, l := range b.Layers {
			for i := 0; i < l.Placements.Len(); i++ {
				r := l.Placements.Record(i)
				require.LessOrEqual(t, float64(r.X), 16.0)
				require.GreaterOrEqual(t, float64(r.X), -16.0)
			}
		}
	}
}

func TestEngineSwapProviderRegeneratesPages(t *testing.T) {
	e := newTestEngine(t, testConfig(t), EngineOptions{})
	page := waitLoaded(t, e, 0, 0, nil)
	require.Greater(t, page.Instances(), 0)

	version := e.SwapProvider(&fixedProvider{value: 0})
	require.EqualValues(t, 1, version)

	page = waitLoaded(t, e, 0, 0, func(p *paging.Page) bool { return p.Version() == version })
	require.Zero(t, page.Instances())

	version = e.InvalidateMaps()
	require.EqualValues(t, 2, version)
	waitLoaded(t, e, 0, 0, func(p *paging.Page) bool { return p.Version() == version })
}

func TestEngineSwapProviderClosesPreviousCache(t *testing.T) {
	cfg := testConfig(t)
	inner := &fixedProvider{value: 1}
	cached, err := terrain.NewCachedProvider(inner, cfg.MapCache)
	require.NoError(t, err)

	e := newTestEngine(t, cfg, EngineOptions{Provider: cached})
	waitLoaded(t, e, 0, 0, nil)
	before := inner.calls.Load()

	e.SwapProvider(&fixedProvider{value: 1})
	for i := 0; i < 2; i++ {
		_, ok, err := cached.Maps(context.Background(), 0, 0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, before+2, inner.calls.Load(), "the swapped out cache no longer memoises")
}

func TestEnginePersistsPages(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Storage.Persist = true
	cfg.Storage.TextureFolder = dir

	e := newTestEngine(t, cfg, EngineOptions{})
	instances := waitLoaded(t, e, 0, 0, nil).Instances()
	require.Greater(t, instances, 0)
	require.FileExists(t, storage.TilePath(dir, 0, 0, cfg.Storage.Extension))
	require.NoError(t, e.Shutdown())

	// An empty provider proves the page comes back from disk.
	reopened := newTestEngine(t, cfg, EngineOptions{Provider: &fixedProvider{value: 0}})
	second := waitLoaded(t, reopened, 0, 0, nil)
	require.Equal(t, instances, second.Instances())
}

func TestEngineSavesPreview(t *testing.T) {
	e := newTestEngine(t, testConfig(t), EngineOptions{})
	waitLoaded(t, e, 0, 0, nil)

	_, err := e.SavePreview(7, 7, t.TempDir())
	require.Error(t, err)

	path, err := e.SavePreview(0, 0, t.TempDir())
	require.NoError(t, err)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 256, img.Bounds().Dx())
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Layers[0].Strategy = "voronoi"
	_, err := NewEngine(cfg, EngineOptions{Logger: quietLogger()})
	require.Error(t, err)
}

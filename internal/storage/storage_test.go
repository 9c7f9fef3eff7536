package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func samplePage(x, z int) *PageData {
	return &PageData{
		X:           x,
		Z:           z,
		PageSize:    128,
		Resolution:  2,
		GeneratedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Blocks: []BlockData{
			{X: 0, Z: 0, RealMax: 45.25, Layers: []LayerData{
				{ID: 1, Placements: []float32{1, 0, 2, 0.5, 0.25}},
				{ID: 2, Placements: []float32{-3, 0, 4, 0.75, -1}},
			}},
			{X: 1, Z: 0, RealMax: 46, Layers: []LayerData{
				{ID: 1, Placements: []float32{5, 0, -6, 0.1, 1.5}},
			}},
		},
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestTilePathLayout(t *testing.T) {
	require.Equal(t, filepath.Join("maps", "Tile_-2_7", "terrainData.bmk"), TilePath("maps", -2, 7, "bmk"))
}

func TestDiskStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "bmk", quietLogger())
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Load(-2, 7)
	require.NoError(t, err)
	require.False(t, ok)

	page := samplePage(-2, 7)
	require.NoError(t, store.Save(page))
	require.FileExists(t, filepath.Join(dir, "Tile_-2_7", "terrainData.bmk"))

	loaded, ok, err := store.Load(-2, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, page.Blocks, loaded.Blocks)
	require.True(t, page.GeneratedAt.Equal(loaded.GeneratedAt))
	require.Equal(t, page.Resolution, loaded.Resolution)

	reopened, err := NewDiskStore(dir, "bmk", quietLogger())
	require.NoError(t, err)
	again, ok, err := reopened.Load(-2, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, loaded.Blocks, again.Blocks)

	require.NoError(t, store.Delete(-2, 7))
	require.NoError(t, store.Delete(-2, 7))
	_, ok, err = store.Load(-2, 7)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDiskStoreOverwritesPage(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "", quietLogger())
	require.NoError(t, err)

	first := samplePage(0, 0)
	require.NoError(t, store.Save(first))
	second := samplePage(0, 0)
	second.Blocks = second.Blocks[:1]
	require.NoError(t, store.Save(second))

	loaded, ok, err := store.Load(0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, loaded.Blocks, 1)

	entries, err := os.ReadDir(filepath.Dir(store.Path(0, 0)))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestDiskStoreRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir, "bmk", quietLogger())
	require.NoError(t, err)

	path := store.Path(1, 1)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, _, err = store.Load(1, 1)
	require.Error(t, err)

	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(`{"format":99}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	_, _, err = store.Load(1, 1)
	require.ErrorIs(t, err, ErrFormat)
}

func TestDiskStoreDetectsMisplacedPage(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "bmk", quietLogger())
	require.NoError(t, err)
	require.NoError(t, store.Save(samplePage(3, 3)))
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path(4, 4)), 0o755))
	require.NoError(t, os.Rename(store.Path(3, 3), store.Path(4, 4)))

	_, _, err = store.Load(4, 4)
	require.Error(t, err)
}

func TestNewDiskStoreRequiresFolder(t *testing.T) {
	_, err := NewDiskStore("", "bmk", nil)
	require.Error(t, err)
}

func TestMemoryStoreCopiesPages(t *testing.T) {
	store := NewMemoryStore()
	page := samplePage(5, -5)
	require.NoError(t, store.Save(page))
	require.Equal(t, 1, store.Len())

	page.Blocks[0].Layers[0].Placements[0] = 99

	loaded, ok, err := store.Load(5, -5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float32(1), loaded.Blocks[0].Layers[0].Placements[0])

	loaded.Blocks[0].RealMax = 0
	again, _, _ := store.Load(5, -5)
	require.Equal(t, 45.25, again.Blocks[0].RealMax)

	require.NoError(t, store.Delete(5, -5))
	require.NoError(t, store.Delete(5, -5))
	_, ok, err = store.Load(5, -5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreRejectsOutOfRangePages(t *testing.T) {
	require.Error(t, NewMemoryStore().Save(samplePage(1<<15, 0)))
}

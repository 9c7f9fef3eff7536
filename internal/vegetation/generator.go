package vegetation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"biomonkey/internal/density"
	"biomonkey/internal/paging"
	"biomonkey/internal/planting"
	"biomonkey/internal/storage"
	"biomonkey/internal/terrain"
)

// providerSnapshot is the map provider visible to workers, with the time it
// was published. Stored pages generated before since are regenerated.
type providerSnapshot struct {
	provider terrain.MapProvider
	since    time.Time
}

// Generator builds page content from map rasters and vegetation layers. It is
// safe for concurrent use by loader workers.
type Generator struct {
	snapshot atomic.Pointer[providerSnapshot]
	planter  *planting.Planter
	layers   []planting.Layer
	store    storage.PageStore
	persist  bool
	log      logrus.FieldLogger
	now      func() time.Time
}

type GeneratorOption func(*Generator)

// WithStore reads pages from store before generating them and, when persist
// is set, writes freshly generated pages back.
func WithStore(store storage.PageStore, persist bool) GeneratorOption {
	return func(g *Generator) {
		g.store = store
		g.persist = persist
	}
}

func WithLogger(logger logrus.FieldLogger) GeneratorOption {
	return func(g *Generator) { g.log = logger }
}

func NewGenerator(provider terrain.MapProvider, planter *planting.Planter, layers []planting.Layer, opts ...GeneratorOption) *Generator {
	g := &Generator{
		planter: planter,
		layers:  append([]planting.Layer(nil), layers...),
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.WithField("component", "generator")
	g.snapshot.Store(&providerSnapshot{provider: provider})
	return g
}

// SetProvider publishes a new map provider for subsequent loads. Callers bump
// the page version so loads already in flight are discarded.
func (g *Generator) SetProvider(provider terrain.MapProvider) terrain.MapProvider {
	prev := g.snapshot.Swap(&providerSnapshot{provider: provider, since: g.now()})
	return prev.provider
}

func (g *Generator) Provider() terrain.MapProvider {
	return g.snapshot.Load().provider
}

func (g *Generator) Layers() []planting.Layer {
	return append([]planting.Layer(nil), g.layers...)
}

func (g *Generator) Generate(ctx context.Context, req paging.LoadRequest) (*paging.PageContent, bool, error) {
	snap := g.snapshot.Load()
	fields := logrus.Fields{"page_x": req.X, "page_z": req.Z}

	if g.store != nil {
		data, ok, err := g.store.Load(req.X, req.Z)
		switch {
		case err != nil:
			g.log.WithFields(fields).WithError(err).Warn("unreadable stored page, regenerating")
		case ok && g.usable(data, req, snap):
			content := contentFromData(data)
			content.FromStore = true
			return content, true, nil
		}
	}

	maps, ok, err := snap.provider.Maps(ctx, req.X, req.Z)
	if err != nil {
		return nil, false, fmt.Errorf("load maps: %w", err)
	}
	if !ok || maps == nil {
		return nil, false, nil
	}

	data, err := g.plantPage(ctx, req, maps)
	if err != nil {
		return nil, false, err
	}

	if g.store != nil && g.persist {
		if err := g.store.Save(data); err != nil {
			g.log.WithFields(fields).WithError(err).Warn("persist page")
		}
	}
	return contentFromData(data), true, nil
}

func (g *Generator) usable(data *storage.PageData, req paging.LoadRequest, snap *providerSnapshot) bool {
	return data.Resolution == req.Resolution &&
		data.PageSize == req.PageSize &&
		!data.GeneratedAt.Before(snap.since)
}

func (g *Generator) plantPage(ctx context.Context, req paging.LoadRequest, maps *terrain.MapBlock) (*storage.PageData, error) {
	if req.Resolution <= 0 || req.PageSize <= 0 {
		return nil, errors.New("invalid page geometry")
	}
	blockSize := req.PageSize / float64(req.Resolution)
	defaultRealMax := paging.DefaultRealMax(req.PageSize)

	var slopes planting.SlopeSampler
	if maps.Heights != nil {
		slopes = maps.Heights
	}

	page := &storage.PageData{
		X:           req.X,
		Z:           req.Z,
		PageSize:    req.PageSize,
		Resolution:  req.Resolution,
		GeneratedAt: g.now(),
		Blocks:      make([]storage.BlockData, 0, req.Resolution*req.Resolution),
	}
	for bz := 0; bz < req.Resolution; bz++ {
		for bx := 0; bx < req.Resolution; bx++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			bounds := planting.Rect{
				XMin: float64(bx) * blockSize,
				ZMin: float64(bz) * blockSize,
				XMax: float64(bx+1) * blockSize,
				ZMax: float64(bz+1) * blockSize,
			}
			block := storage.BlockData{X: bx, Z: bz}
			for i := range g.layers {
				layer := &g.layers[i]
				source := sourceMap(maps, layer.Source)
				if source == nil {
					continue
				}
				placements, err := g.planter.Plant(planting.Request{
					Page:    planting.Coord{X: req.X, Z: req.Z},
					Block:   planting.Coord{X: bx, Z: bz},
					Bounds:  bounds,
					Density: source,
					Slopes:  slopes,
					Layer:   layer,
				})
				if err != nil {
					return nil, fmt.Errorf("plant page %d,%d block %d,%d: %w", req.X, req.Z, bx, bz, err)
				}
				if r := overflowRadius(layer, placements); r > defaultRealMax && r > block.RealMax {
					block.RealMax = r
				}
				block.Layers = append(block.Layers, storage.LayerData{ID: layer.ID, Placements: placements})
			}
			page.Blocks = append(page.Blocks, block)
		}
	}
	return page, nil
}

func sourceMap(maps *terrain.MapBlock, source planting.Source) *density.Map {
	switch source {
	case planting.SourceAlpha:
		return maps.Alpha
	case planting.SourceSoil:
		return maps.Soil
	default:
		return maps.Biotope
	}
}

// overflowRadius is the radius around the block centre enclosing every
// instance of the layer at its world scale.
func overflowRadius(layer *planting.Layer, placements planting.Placements) float64 {
	r := 0.0
	for i := 0; i < placements.Len(); i++ {
		rec := placements.Record(i)
		d := math.Hypot(float64(rec.X), float64(rec.Z)) + layer.InstanceRadius*layer.WorldScale(rec.Scale)
		if d > r {
			r = d
		}
	}
	return r
}

func contentFromData(data *storage.PageData) *paging.PageContent {
	content := &paging.PageContent{Blocks: make([]paging.BlockContent, len(data.Blocks))}
	for i, b := range data.Blocks {
		layers := make([]paging.LayerContent, len(b.Layers))
		for j, l := range b.Layers {
			layers[j] = paging.LayerContent{ID: l.ID, Placements: l.Placements}
		}
		content.Blocks[i] = paging.BlockContent{X: b.X, Z: b.Z, RealMax: b.RealMax, Layers: layers}
	}
	return content
}

package vegetation

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"biomonkey/internal/config"
	"biomonkey/internal/paging"
	"biomonkey/internal/planting"
	"biomonkey/internal/storage"
	"biomonkey/internal/terrain"
)

type EngineOptions struct {
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
	Scene      paging.Scene
	// Provider and Store override the ones built from configuration.
	Provider terrain.MapProvider
	Store    storage.PageStore
}

// Engine wires map providers, planting and storage into a paging manager.
type Engine struct {
	cfg       *config.Config
	log       logrus.FieldLogger
	generator *Generator
	manager   *paging.Manager
	store     storage.PageStore
}

func NewEngine(cfg *config.Config, opts EngineOptions) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	layers := make([]planting.Layer, 0, len(cfg.Layers))
	for _, lc := range cfg.Layers {
		layer, err := planting.LayerFromConfig(lc)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", lc.ID, lc.Name, err)
		}
		layers = append(layers, layer)
	}

	provider := opts.Provider
	if provider == nil {
		var err error
		if provider, err = terrain.NewProvider(cfg); err != nil {
			return nil, err
		}
	}

	store := opts.Store
	if store == nil && cfg.Storage.Persist {
		var err error
		if store, err = storage.NewDiskStore(cfg.Storage.TextureFolder, cfg.Storage.Extension, logger); err != nil {
			return nil, err
		}
	}

	genOpts := []GeneratorOption{WithLogger(logger)}
	if store != nil {
		genOpts = append(genOpts, WithStore(store, cfg.Storage.Persist))
	}
	generator := NewGenerator(provider, planting.NewPlanter(cfg.Terrain.Seed), layers, genOpts...)

	pagingOpts := paging.OptionsFromConfig(cfg)
	pagingOpts.Logger = logger
	pagingOpts.Registerer = opts.Registerer
	pagingOpts.Scene = opts.Scene
	manager, err := paging.NewManager(generator, pagingOpts)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		log:       logger,
		generator: generator,
		manager:   manager,
		store:     store,
	}, nil
}

func (e *Engine) Manager() *paging.Manager { return e.manager }

func (e *Engine) Layers() []planting.Layer { return e.generator.Layers() }

func (e *Engine) Init(ctx context.Context) error {
	return e.manager.Init(ctx)
}

func (e *Engine) Update(tpf, viewX, viewZ float64) error {
	return e.manager.Update(tpf, viewX, viewZ)
}

// SwapProvider publishes provider for future loads and bumps the page version
// so every page is regenerated from it. The previous provider is closed when
// it holds a cache; loads still using it bypass the closed cache.
func (e *Engine) SwapProvider(provider terrain.MapProvider) int64 {
	prev := e.generator.SetProvider(provider)
	if cached, ok := prev.(*terrain.CachedProvider); ok && prev != provider {
		cached.Close()
	}
	version := e.manager.IncrementPageVersion()
	e.log.WithField("version", version).Info("map provider swapped")
	return version
}

// InvalidateMaps drops cached rasters and regenerates every page.
func (e *Engine) InvalidateMaps() int64 {
	if cached, ok := e.generator.Provider().(*terrain.CachedProvider); ok {
		cached.Invalidate()
	}
	return e.manager.IncrementPageVersion()
}

// SavePreview renders the loaded page at (x, z) into dir.
func (e *Engine) SavePreview(x, z int, dir string) (string, error) {
	page, ok := e.manager.Page(x, z)
	if !ok || !page.Loaded() {
		return "", fmt.Errorf("page %d,%d is not loaded", x, z)
	}
	return SavePagePreview(page, e.generator.Layers(), e.cfg.Paging.PageSize, dir)
}

func (e *Engine) Shutdown() error {
	err := e.manager.Shutdown()
	if cached, ok := e.generator.Provider().(*terrain.CachedProvider); ok {
		cached.Close()
	}
	if e.store != nil {
		err = errors.Join(err, e.store.Close())
	}
	return err
}

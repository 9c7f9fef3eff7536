package terrain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"biomonkey/internal/config"
	"biomonkey/internal/grid"
)

// CachedProvider memoises present map blocks of an inner provider. Absent
// pages are never cached so they are asked for again on the next load. After
// Close, lookups go straight to the inner provider.
type CachedProvider struct {
	inner MapProvider
	ttl   time.Duration

	mu     sync.RWMutex
	cache  *ristretto.Cache[uint64, *MapBlock]
	closed bool
}

func NewCachedProvider(inner MapProvider, cfg config.MapCacheConfig) (*CachedProvider, error) {
	cache, err := ristretto.NewCache[uint64, *MapBlock](&ristretto.Config[uint64, *MapBlock]{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create map cache: %w", err)
	}
	return &CachedProvider{inner: inner, cache: cache, ttl: cfg.TTL.Duration()}, nil
}

func (p *CachedProvider) Maps(ctx context.Context, x, z int) (*MapBlock, bool, error) {
	key, err := grid.Hash(x, z)
	if err != nil {
		return p.inner.Maps(ctx, x, z)
	}
	if block, ok := p.get(uint64(key)); ok {
		return block, true, nil
	}
	block, ok, err := p.inner.Maps(ctx, x, z)
	if err != nil || !ok {
		return block, ok, err
	}
	p.set(uint64(key), block)
	return block, true, nil
}

func (p *CachedProvider) get(key uint64) (*MapBlock, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, false
	}
	return p.cache.Get(key)
}

func (p *CachedProvider) set(key uint64, block *MapBlock) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	if p.ttl > 0 {
		p.cache.SetWithTTL(key, block, block.ApproxBytes(), p.ttl)
	} else {
		p.cache.Set(key, block, block.ApproxBytes())
	}
	p.cache.Wait()
}

// Invalidate drops every cached block.
func (p *CachedProvider) Invalidate() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.closed {
		p.cache.Clear()
	}
}

// Close releases the cache. It is safe to call more than once and while
// lookups are in progress.
func (p *CachedProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cache.Close()
}

// NewProvider builds the provider selected by cfg.Terrain.Provider, wrapped in
// a cache when enabled.
func NewProvider(cfg *config.Config) (MapProvider, error) {
	pageSize := float64(cfg.Paging.PageSize)
	var p MapProvider
	switch cfg.Terrain.Provider {
	case "image":
		p = NewImageProvider(cfg.Storage.TextureFolder, pageSize, cfg.Terrain)
	case "noise", "":
		p = NewNoiseProvider(cfg.Terrain, pageSize)
	default:
		return nil, fmt.Errorf("unknown terrain provider %q", cfg.Terrain.Provider)
	}
	if !cfg.MapCache.Enabled {
		return p, nil
	}
	return NewCachedProvider(p, cfg.MapCache)
}

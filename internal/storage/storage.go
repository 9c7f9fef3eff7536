package storage

import (
	"fmt"
	"path/filepath"
	"time"
)

// FormatVersion is written to every persisted page header.
const FormatVersion = 1

// PageData is the persisted generation result of one page.
type PageData struct {
	X, Z        int
	PageSize    float64
	Resolution  int
	GeneratedAt time.Time
	Blocks      []BlockData
}

// Coords makes PageData usable as a grid cell.
func (p *PageData) Coords() (int, int) { return p.X, p.Z }

type BlockData struct {
	X, Z    int
	RealMax float64
	Layers  []LayerData
}

type LayerData struct {
	ID         int
	Placements []float32
}

func (p *PageData) clone() *PageData {
	dup := *p
	dup.Blocks = make([]BlockData, len(p.Blocks))
	for i, b := range p.Blocks {
		dup.Blocks[i] = b
		dup.Blocks[i].Layers = make([]LayerData, len(b.Layers))
		for j, l := range b.Layers {
			dup.Blocks[i].Layers[j] = LayerData{ID: l.ID, Placements: append([]float32(nil), l.Placements...)}
		}
	}
	return &dup
}

// PageStore persists generated pages. Load reports false when nothing is
// stored for the page; that is a cache miss, not an error.
type PageStore interface {
	Load(x, z int) (*PageData, bool, error)
	Save(page *PageData) error
	Delete(x, z int) error
	Close() error
}

// TilePath is <folder>/Tile_<x>_<z>/terrainData.<ext>.
func TilePath(folder string, x, z int, ext string) string {
	return filepath.Join(folder, fmt.Sprintf("Tile_%d_%d", x, z), "terrainData."+ext)
}

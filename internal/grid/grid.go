package grid

import (
	"errors"
	"fmt"
	"sort"
)

// Radius offsets signed cell coordinates into the unsigned 15-bit key space.
const Radius = 1 << 14

const (
	// MinCoord and MaxCoord bound the coordinates accepted by Hash.
	MinCoord = -Radius
	MaxCoord = Radius - 1

	axisBits = 15
	axisMask = 1<<axisBits - 1
)

var ErrOutOfRange = errors.New("grid: cell coordinate out of range")

// Hash packs a cell coordinate into its 32-bit key: x in bits 0-14, z in bits 15-29.
func Hash(x, z int) (uint32, error) {
	if !InRange(x, z) {
		return 0, fmt.Errorf("%w: (%d,%d)", ErrOutOfRange, x, z)
	}
	return uint32(x+Radius) | uint32(z+Radius)<<axisBits, nil
}

// Unhash is the inverse of Hash.
func Unhash(key uint32) (x, z int) {
	x = int(key&axisMask) - Radius
	z = int((key>>axisBits)&axisMask) - Radius
	return x, z
}

// InRange reports whether (x, z) can be represented by a key.
func InRange(x, z int) bool {
	return x >= MinCoord && x <= MaxCoord && z >= MinCoord && z <= MaxCoord
}

// Cell is anything stored in a Grid. Its coordinates must not change while stored.
type Cell interface {
	Coords() (x, z int)
}

// Grid is a spatial hash of cells keyed by Hash. It is not safe for concurrent use;
// the paging manager only touches it from the update goroutine.
type Grid[C Cell] struct {
	cells map[uint32]C
}

func New[C Cell]() *Grid[C] {
	return &Grid[C]{cells: make(map[uint32]C)}
}

// Put stores c, replacing any cell at the same coordinates.
func (g *Grid[C]) Put(c C) error {
	x, z := c.Coords()
	key, err := Hash(x, z)
	if err != nil {
		return err
	}
	g.cells[key] = c
	return nil
}

func (g *Grid[C]) Get(x, z int) (C, bool) {
	var zero C
	key, err := Hash(x, z)
	if err != nil {
		return zero, false
	}
	c, ok := g.cells[key]
	return c, ok
}

func (g *Grid[C]) Remove(x, z int) (C, bool) {
	var zero C
	key, err := Hash(x, z)
	if err != nil {
		return zero, false
	}
	c, ok := g.cells[key]
	if !ok {
		return zero, false
	}
	delete(g.cells, key)
	return c, true
}

func (g *Grid[C]) Len() int {
	return len(g.cells)
}

// Each visits cells in unspecified order until fn returns false.
// fn must not add cells; removing the visited cell is allowed.
func (g *Grid[C]) Each(fn func(C) bool) {
	for _, c := range g.cells {
		if !fn(c) {
			return
		}
	}
}

// Cells returns a snapshot ordered by key.
func (g *Grid[C]) Cells() []C {
	keys := make([]uint32, 0, len(g.cells))
	for key := range g.cells {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]C, 0, len(keys))
	for _, key := range keys {
		out = append(out, g.cells[key])
	}
	return out
}

func (g *Grid[C]) Clear() {
	g.cells = make(map[uint32]C)
}

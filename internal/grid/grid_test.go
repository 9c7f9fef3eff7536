package grid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type testCell struct {
	x, z  int
	label string
}

func (c *testCell) Coords() (int, int) { return c.x, c.z }

func TestHashRoundTripAcrossRange(t *testing.T) {
	check := func(x, z int) {
		key, err := Hash(x, z)
		require.NoError(t, err)
		gx, gz := Unhash(key)
		if gx != x || gz != z {
			t.Fatalf("unhash(hash(%d,%d)) = (%d,%d)", x, z, gx, gz)
		}
	}

	// Every x against a spread of z rows, and every z against a spread of x columns.
	for x := MinCoord; x <= MaxCoord; x++ {
		for z := MinCoord; z <= MaxCoord; z += 97 {
			check(x, z)
		}
		check(x, MaxCoord)
	}
	for z := MinCoord; z <= MaxCoord; z++ {
		for x := MinCoord; x <= MaxCoord; x += 101 {
			check(x, z)
		}
		check(MaxCoord, z)
	}
}

func TestHashUniqueInNeighbourhood(t *testing.T) {
	seen := make(map[uint32][2]int)
	for _, base := range [][2]int{{0, 0}, {MinCoord, MinCoord}, {MaxCoord - 63, MaxCoord - 63}, {-1, 5000}} {
		for dx := 0; dx < 64; dx++ {
			for dz := 0; dz < 64; dz++ {
				x, z := base[0]+dx, base[1]+dz
				key, err := Hash(x, z)
				require.NoError(t, err)
				if prev, ok := seen[key]; ok && prev != [2]int{x, z} {
					t.Fatalf("key %d shared by %v and (%d,%d)", key, prev, x, z)
				}
				seen[key] = [2]int{x, z}
			}
		}
	}
}

func TestHashLayout(t *testing.T) {
	key, err := Hash(0, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(Radius|Radius<<15), key)

	key, err = Hash(MinCoord, MinCoord)
	require.NoError(t, err)
	require.Equal(t, uint32(0), key)

	key, err = Hash(MaxCoord, MaxCoord)
	require.NoError(t, err)
	require.Less(t, key, uint32(1<<30))
}

func TestHashRejectsOutOfRange(t *testing.T) {
	tests := []struct{ x, z int }{
		{MaxCoord + 1, 0},
		{0, MaxCoord + 1},
		{MinCoord - 1, 0},
		{0, MinCoord - 1},
	}
	for _, tt := range tests {
		_, err := Hash(tt.x, tt.z)
		require.True(t, errors.Is(err, ErrOutOfRange), "(%d,%d) should be rejected", tt.x, tt.z)
	}
}

func TestGridPutGetRemove(t *testing.T) {
	g := New[*testCell]()

	require.NoError(t, g.Put(&testCell{x: 3, z: -4, label: "a"}))
	require.NoError(t, g.Put(&testCell{x: -3, z: 4, label: "b"}))
	require.Equal(t, 2, g.Len())

	c, ok := g.Get(3, -4)
	require.True(t, ok)
	require.Equal(t, "a", c.label)

	_, ok = g.Get(4, -3)
	require.False(t, ok)

	require.NoError(t, g.Put(&testCell{x: 3, z: -4, label: "c"}))
	require.Equal(t, 2, g.Len())
	c, _ = g.Get(3, -4)
	require.Equal(t, "c", c.label)

	removed, ok := g.Remove(3, -4)
	require.True(t, ok)
	require.Equal(t, "c", removed.label)
	_, ok = g.Remove(3, -4)
	require.False(t, ok)
	require.Equal(t, 1, g.Len())

	err := g.Put(&testCell{x: MaxCoord + 1})
	require.ErrorIs(t, err, ErrOutOfRange)
	_, ok = g.Get(MaxCoord+1, 0)
	require.False(t, ok)
}

func TestGridCellsOrderedByKey(t *testing.T) {
	g := New[*testCell]()
	for _, xz := range [][2]int{{2, 2}, {-1, 0}, {0, -1}, {1, 0}} {
		require.NoError(t, g.Put(&testCell{x: xz[0], z: xz[1]}))
	}
	cells := g.Cells()
	require.Len(t, cells, 4)
	var last uint32
	for i, c := range cells {
		key, err := Hash(c.x, c.z)
		require.NoError(t, err)
		if i > 0 {
			require.Greater(t, key, last)
		}
		last = key
	}

	visited := 0
	g.Each(func(*testCell) bool {
		visited++
		return visited < 2
	})
	require.Equal(t, 2, visited)

	g.Clear()
	require.Zero(t, g.Len())
}

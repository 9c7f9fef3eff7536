package planting

import "math/rand"

// RandomTable derives reproducible seeds for (page, block, layer) triples.
// The same world seed and inputs always produce the same seed.
type RandomTable struct {
	world uint64
}

func NewRandomTable(worldSeed int64) RandomTable {
	return RandomTable{world: mix(uint64(worldSeed) ^ 0x9e3779b97f4a7c15)}
}

func (t RandomTable) Seed(page, block Coord, layer int) uint64 {
	h := t.world
	for _, v := range [...]int{page.X, page.Z, block.X, block.Z, layer} {
		h = mix(h ^ uint64(int64(v)))
	}
	return h
}

// Rand returns a generator seeded for the triple. Generators are not shared
// between goroutines.
func (t RandomTable) Rand(page, block Coord, layer int) *rand.Rand {
	return rand.New(rand.NewSource(int64(t.Seed(page, block, layer))))
}

// mix is the splitmix64 finaliser.
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

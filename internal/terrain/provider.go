package terrain

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"biomonkey/internal/config"
	"biomonkey/internal/density"
)

// NoiseProvider generates page rasters procedurally from fractal noise.
type NoiseProvider struct {
	cfg      config.TerrainConfig
	pageSize float64
	height   *FractalNoise
	soil     *FractalNoise
	biotope  []*FractalNoise
}

const soilSeedSalt = 0x2545f491

func NewNoiseProvider(cfg config.TerrainConfig, pageSize float64) *NoiseProvider {
	layers := cfg.BiotopeLayers
	if layers <= 0 {
		layers = 1
	}
	p := &NoiseProvider{
		cfg:      cfg,
		pageSize: pageSize,
		height:   NewFractalNoise(cfg, cfg.Seed),
		soil:     NewFractalNoise(cfg, cfg.Seed^soilSeedSalt),
		biotope:  make([]*FractalNoise, layers),
	}
	for i := range p.biotope {
		p.biotope[i] = NewFractalNoise(cfg, cfg.Seed^int64(0x5bd1e995*(i+1)))
	}
	return p
}

func (p *NoiseProvider) Maps(ctx context.Context, x, z int) (*MapBlock, bool, error) {
	if r := p.cfg.WorldRadius; r > 0 && (x < -r || x > r || z < -r || z > r) {
		return nil, false, nil
	}
	size := p.cfg.MapSize
	if size < 2 {
		size = 2
	}
	originX := float64(x) * p.pageSize
	originZ := float64(z) * p.pageSize

	heightSpacing := p.pageSize / float64(size-1)
	heights := make([]float32, size*size)
	for iz := 0; iz < size; iz++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		for ix := 0; ix < size; ix++ {
			wx := originX + float64(ix)*heightSpacing
			wz := originZ + float64(iz)*heightSpacing
			heights[iz*size+ix] = float32(p.height.At(wx, wz) * p.cfg.Amplitude)
		}
	}
	heightMap, err := NewHeightMap(size, p.pageSize, heights)
	if err != nil {
		return nil, false, err
	}

	// Texel centres for the density rasters.
	texel := p.pageSize / float64(size)
	depth := len(p.biotope)
	biotope := make([]float32, size*size*depth)
	const alphaDepth = 3
	alpha := make([]float32, size*size*alphaDepth)
	soil := make([]float32, size*size)
	for iz := 0; iz < size; iz++ {
		for ix := 0; ix < size; ix++ {
			lx := (float64(ix) + 0.5) * texel
			lz := (float64(iz) + 0.5) * texel
			wx := originX + lx
			wz := originZ + lz
			cell := iz*size + ix
			soil[cell] = float32(0.5 + 0.5*p.soil.At(wx, wz))
			for layer, n := range p.biotope {
				biotope[cell*depth+layer] = float32(0.5 + 0.5*n.At(wx, wz))
			}
			low, mid, high := heightBands(heightMap.Height(lx, lz), p.cfg.Amplitude)
			alpha[cell*alphaDepth] = low
			alpha[cell*alphaDepth+1] = mid
			alpha[cell*alphaDepth+2] = high
		}
	}

	var opts []density.Option
	if p.cfg.FlipZ {
		opts = append(opts, density.FlipZ())
	}
	biotopeMap, err := density.New(size, depth, p.pageSize, biotope, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("build biotope map: %w", err)
	}
	alphaMap, err := density.New(size, alphaDepth, p.pageSize, alpha, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("build alpha map: %w", err)
	}
	soilMap, err := density.New(size, 1, p.pageSize, soil, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("build soil map: %w", err)
	}

	return &MapBlock{
		X:       x,
		Z:       z,
		Heights: heightMap,
		Alpha:   alphaMap,
		Biotope: biotopeMap,
		Soil:    soilMap,
	}, true, nil
}

// heightBands splits a height into low/mid/high texture weights summing to 1.
func heightBands(h, amplitude float64) (float32, float32, float32) {
	if amplitude <= 0 {
		return 0, 1, 0
	}
	t := clampFloat((h/amplitude+1)*0.5, 0, 1)
	low := clampFloat(1-2*t, 0, 1)
	high := clampFloat(2*t-1, 0, 1)
	return float32(low), float32(1 - low - high), float32(high)
}

// ImageProvider reads page rasters from PNG files under
// <folder>/Tile_<x>_<z>/{alpha,biotope,soil,height}.png. A tile without alpha
// and biotope images is reported as missing.
type ImageProvider struct {
	folder    string
	pageSize  float64
	amplitude float64
	flipZ     bool
}

func NewImageProvider(folder string, pageSize float64, cfg config.TerrainConfig) *ImageProvider {
	return &ImageProvider{
		folder:    folder,
		pageSize:  pageSize,
		amplitude: cfg.Amplitude,
		flipZ:     cfg.FlipZ,
	}
}

// TileDir is the directory holding every file of a page tile.
func TileDir(folder string, x, z int) string {
	return filepath.Join(folder, fmt.Sprintf("Tile_%d_%d", x, z))
}

func (p *ImageProvider) Maps(ctx context.Context, x, z int) (*MapBlock, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	dir := TileDir(p.folder, x, z)

	var opts []density.Option
	if p.flipZ {
		opts = append(opts, density.FlipZ())
	}

	block := &MapBlock{X: x, Z: z}
	found := false
	for _, target := range []struct {
		name string
		dst  **density.Map
	}{
		{"alpha.png", &block.Alpha},
		{"biotope.png", &block.Biotope},
		{"soil.png", &block.Soil},
	} {
		img, ok, err := readPNG(filepath.Join(dir, target.name))
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		m, err := density.FromImage(img, p.pageSize, opts...)
		if err != nil {
			return nil, false, fmt.Errorf("tile %d,%d %s: %w", x, z, target.name, err)
		}
		*target.dst = m
		if target.name != "soil.png" {
			found = true
		}
	}
	if !found {
		return nil, false, nil
	}

	img, ok, err := readPNG(filepath.Join(dir, "height.png"))
	if err != nil {
		return nil, false, err
	}
	if ok {
		heights, err := heightsFromImage(img, p.pageSize, p.amplitude)
		if err != nil {
			return nil, false, fmt.Errorf("tile %d,%d height.png: %w", x, z, err)
		}
		block.Heights = heights
	}
	return block, true, nil
}

func readPNG(path string) (image.Image, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, true, nil
}

// heightsFromImage maps luminance in [0,1] to heights in [-amplitude, amplitude].
func heightsFromImage(img image.Image, pageSize, amplitude float64) (*HeightMap, error) {
	b := img.Bounds()
	if b.Dx() != b.Dy() {
		return nil, fmt.Errorf("height image must be square, got %dx%d", b.Dx(), b.Dy())
	}
	size := b.Dx()
	values := make([]float32, size*size)
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+z).RGBA()
			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 0xffff
			values[z*size+x] = float32((lum*2 - 1) * amplitude)
		}
	}
	return NewHeightMap(size, pageSize, values)
}

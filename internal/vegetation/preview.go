package vegetation

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"biomonkey/internal/paging"
	"biomonkey/internal/planting"
)

const (
	previewMaxSize      = 512
	previewMinRadius    = 1.5
	previewAmbientLight = 0.35
)

var previewPalette = []string{"#7cb342", "#2e7d32", "#c0ca33", "#8d6e63", "#26a69a", "#f9a825"}

// SavePagePreview renders a top-down PNG of the page's placements into
// outputDir and returns the file path.
func SavePagePreview(page *paging.Page, layers []planting.Layer, pageSize float64, outputDir string) (string, error) {
	if page == nil {
		return "", fmt.Errorf("page is nil")
	}
	if pageSize <= 0 {
		return "", fmt.Errorf("invalid page size %v", pageSize)
	}

	size := int(math.Min(math.Ceil(pageSize*2), previewMaxSize))
	scale := float64(size) / pageSize
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	background := color.NRGBA{R: 38, G: 32, B: 24, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{background}, image.Point{}, draw.Src)

	byID := make(map[int]*planting.Layer, len(layers))
	colors := make(map[int]color.NRGBA, len(layers))
	for i := range layers {
		byID[layers[i].ID] = &layers[i]
		col, ok := parseHexColor(previewPalette[i%len(previewPalette)])
		if !ok {
			col = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
		}
		colors[layers[i].ID] = col
	}

	// Draw larger instances first so small ones stay visible on top.
	type mark struct {
		x, z, radius float64
		col          color.NRGBA
	}
	var marks []mark
	for _, b := range page.Blocks {
		cx := b.Bounds.XCenter - page.Bounds.XMin
		cz := b.Bounds.ZCenter - page.Bounds.ZMin
		for _, l := range b.Layers {
			layer, ok := byID[l.ID]
			if !ok {
				continue
			}
			for i := 0; i < l.Placements.Len(); i++ {
				rec := l.Placements.Record(i)
				worldScale := layer.WorldScale(rec.Scale)
				radius := math.Max(layer.InstanceRadius*worldScale*scale, previewMinRadius)
				marks = append(marks, mark{
					x:      (cx + float64(rec.X)) * scale,
					z:      (cz + float64(rec.Z)) * scale,
					radius: radius,
					col:    applyLighting(colors[l.ID], previewAmbientLight+0.65*float64(rec.Scale)),
				})
			}
		}
	}
	sort.SliceStable(marks, func(i, j int) bool { return marks[i].radius > marks[j].radius })
	for _, m := range marks {
		fillPolygon(img, octagon(m.x, m.z, m.radius), m.col)
	}

	if err := ensurePreviewDir(outputDir); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, fmt.Sprintf("page_%d_%d.png", page.X, page.Z))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create preview: %w", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}
	return path, nil
}

func octagon(x, z, r float64) []image.Point {
	pts := make([]image.Point, 8)
	for i := range pts {
		a := float64(i) * math.Pi / 4
		pts[i] = image.Point{X: int(math.Round(x + r*math.Cos(a))), Y: int(math.Round(z + r*math.Sin(a)))}
	}
	return pts
}

func parseHexColor(value string) (color.NRGBA, bool) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(trimmed) != 6 {
		return color.NRGBA{}, false
	}
	var rgb [3]uint8
	for i := range rgb {
		v, err := strconv.ParseUint(trimmed[i*2:i*2+2], 16, 8)
		if err != nil {
			return color.NRGBA{}, false
		}
		rgb[i] = uint8(v)
	}
	return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}, true
}

func applyLighting(base color.NRGBA, factor float64) color.NRGBA {
	factor = math.Max(0, math.Min(1, factor))
	return color.NRGBA{
		R: uint8(math.Round(float64(base.R) * factor)),
		G: uint8(math.Round(float64(base.G) * factor)),
		B: uint8(math.Round(float64(base.B) * factor)),
		A: 255,
	}
}

// fillPolygon scanline-fills a convex or concave polygon, clipped to img.
func fillPolygon(img *image.NRGBA, pts []image.Point, col color.NRGBA) {
	if len(pts) < 3 {
		return
	}
	minY, maxY := pts[0].Y, pts[0].Y
	for _, p := range pts[1:] {
		minY = min(minY, p.Y)
		maxY = max(maxY, p.Y)
	}
	bounds := img.Bounds()
	minY = max(minY, bounds.Min.Y)
	maxY = min(maxY, bounds.Max.Y-1)

	xs := make([]int, 0, len(pts))
	for y := minY; y <= maxY; y++ {
		xs = xs[:0]
		for i := range pts {
			j := (i + 1) % len(pts)
			x1, y1 := pts[i].X, pts[i].Y
			x2, y2 := pts[j].X, pts[j].Y
			if y1 == y2 || y < min(y1, y2) || y >= max(y1, y2) {
				continue
			}
			xs = append(xs, x1+(y-y1)*(x2-x1)/(y2-y1))
		}
		sort.Ints(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			xStart := max(xs[i], bounds.Min.X)
			xEnd := min(xs[i+1], bounds.Max.X-1)
			for x := xStart; x <= xEnd; x++ {
				idx := (y-bounds.Min.Y)*img.Stride + (x-bounds.Min.X)*4
				img.Pix[idx] = col.R
				img.Pix[idx+1] = col.G
				img.Pix[idx+2] = col.B
				img.Pix[idx+3] = col.A
			}
		}
	}
}

func ensurePreviewDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("output directory is empty")
	}
	return os.MkdirAll(dir, 0o755)
}

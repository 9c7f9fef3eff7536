package paging

import (
	"math"

	"biomonkey/internal/planting"
)

type State uint8

const (
	StateUnloaded State = iota
	StatePending
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLoaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

// RectBounds is an axis aligned rectangle in world coordinates.
type RectBounds struct {
	XMin, XMax float64
	ZMin, ZMax float64
	XCenter    float64
	ZCenter    float64
}

func NewRectBounds(xMin, zMin, xMax, zMax float64) RectBounds {
	return RectBounds{
		XMin:    xMin,
		XMax:    xMax,
		ZMin:    zMin,
		ZMax:    zMax,
		XCenter: (xMin + xMax) / 2,
		ZCenter: (zMin + zMax) / 2,
	}
}

func (r RectBounds) DistSq(x, z float64) float64 {
	dx := x - r.XCenter
	dz := z - r.ZCenter
	return dx*dx + dz*dz
}

// Node is the per detail level handle of a block.
type Node struct {
	Visible bool
	Fade    float64
}

// LayerContent holds one vegetation layer's placements for a block.
type LayerContent struct {
	ID         int
	Placements planting.Placements
}

// Block is a subdivision of a page carrying generated content.
type Block struct {
	X, Z    int
	Bounds  RectBounds
	RealMax float64
	Layers  []LayerContent
	Nodes   []Node
}

// Instances is the total number of placements over all layers.
func (b *Block) Instances() int {
	n := 0
	for _, l := range b.Layers {
		n += l.Placements.Len()
	}
	return n
}

// Page is the unit of streaming. All fields are owned by the manager's
// update goroutine.
type Page struct {
	X, Z   int
	Key    uint32
	Bounds RectBounds
	Blocks []*Block

	idle       bool
	pending    bool
	loaded     bool
	cacheTimer float64
	version    int64
	task       *Task

	// failures counts consecutive failed loads. rejected is set when the
	// last failure cannot be cured by retrying at rejectedVersion.
	failures        int
	rejected        bool
	rejectedVersion int64
}

func (p *Page) Coords() (int, int) { return p.X, p.Z }

func (p *Page) State() State {
	switch {
	case p.loaded:
		return StateLoaded
	case p.pending:
		return StatePending
	default:
		return StateUnloaded
	}
}

func (p *Page) Idle() bool          { return p.idle }
func (p *Page) Pending() bool       { return p.pending }
func (p *Page) Loaded() bool        { return p.loaded }
func (p *Page) CacheTimer() float64 { return p.cacheTimer }

// Rejected reports whether the last load failed permanently. Such a page is
// not rescheduled until the page version changes or LoadPage is called.
func (p *Page) Rejected() bool { return p.rejected }

// Version is the page version the attached content was generated for.
func (p *Page) Version() int64 { return p.version }

func (p *Page) Instances() int {
	n := 0
	for _, b := range p.Blocks {
		n += b.Instances()
	}
	return n
}

// PageContent is what a generator produces for one page.
type PageContent struct {
	Blocks []BlockContent
	// FromStore is set when the content was read back from a page store.
	FromStore bool
}

type BlockContent struct {
	X, Z int
	// RealMax overrides the default enclosing radius when larger.
	RealMax float64
	Layers  []LayerContent
}

// DefaultRealMax is the visibility radius a block gets unless its content
// overflows it: half the diagonal of the page.
func DefaultRealMax(pageSize float64) float64 {
	return pageSize / math.Sqrt2
}

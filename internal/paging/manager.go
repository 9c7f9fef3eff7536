package paging

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"biomonkey/internal/config"
	"biomonkey/internal/density"
	"biomonkey/internal/grid"
	"biomonkey/internal/planting"
)

var ErrNotStarted = errors.New("paging: manager not started")

// ErrPermanent marks generation failures that retrying cannot fix, such as a
// layer referencing a texture its map does not have. Generators wrap it.
var ErrPermanent = errors.New("paging: permanent load failure")

// permanent reports whether err is a misconfiguration rather than a transient
// failure.
func permanent(err error) bool {
	for _, target := range []error{
		ErrPermanent,
		planting.ErrUnknownTexture,
		planting.ErrUnknownStrategy,
		planting.ErrInvalidDistance,
		planting.ErrTooManyCells,
		density.ErrLayer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// DetailLevel controls visibility of one level of detail.
type DetailLevel struct {
	FarDistance float64
	FadeRange   float64
	FadeEnabled bool
}

type Options struct {
	PageSize           float64
	Resolution         int
	GridRadius         int
	DetailLevels       []DetailLevel
	CacheEnabled       bool
	CacheLifetime      time.Duration
	MaxSchedulePerTick int
	Workers            int
	QueueSize          int

	Scene      Scene
	Logger     logrus.FieldLogger
	Registerer prometheus.Registerer
}

// OptionsFromConfig maps the paging and loader sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	levels := make([]DetailLevel, len(cfg.Paging.DetailLevels))
	for i, lv := range cfg.Paging.DetailLevels {
		levels[i] = DetailLevel{FarDistance: lv.FarDistance, FadeRange: lv.FadeRange, FadeEnabled: lv.FadeEnabled}
	}
	return Options{
		PageSize:           cfg.Paging.PageSize,
		Resolution:         cfg.Paging.Resolution,
		GridRadius:         cfg.Paging.GridRadius,
		DetailLevels:       levels,
		CacheEnabled:       cfg.Paging.CacheEnabled,
		CacheLifetime:      cfg.Paging.CacheLifetime.Duration(),
		MaxSchedulePerTick: cfg.Paging.MaxSchedulePerTick,
		Workers:            cfg.Loader.Workers,
		QueueSize:          cfg.Loader.QueueSize,
	}
}

func (o Options) validate() error {
	if o.PageSize <= 0 {
		return errors.New("paging: page size must be positive")
	}
	if o.Resolution <= 0 {
		return errors.New("paging: resolution must be positive")
	}
	if o.GridRadius < 0 {
		return errors.New("paging: grid radius must not be negative")
	}
	if len(o.DetailLevels) == 0 {
		return errors.New("paging: at least one detail level is required")
	}
	for i, lv := range o.DetailLevels {
		if lv.FarDistance <= 0 || (i > 0 && lv.FarDistance <= o.DetailLevels[i-1].FarDistance) {
			return fmt.Errorf("paging: detail level %d far distance must be positive and increasing", i)
		}
	}
	return nil
}

// Stats is a snapshot of the manager's bookkeeping.
type Stats struct {
	Pages     int
	Loaded    int
	Pending   int
	Idle      int
	Rejected  int
	Instances int
	Version   int64
	Attached  uint64
	Stale     uint64
	Failed    uint64
	Evicted   uint64
}

// Manager streams pages around a viewpoint. Update, LoadPage, UnloadPage and
// the page accessors must be called from a single goroutine;
// IncrementPageVersion may be called from anywhere.
type Manager struct {
	id      string
	opts    Options
	scene   Scene
	log     logrus.FieldLogger
	metrics *metrics
	loader  *Loader

	pages     *grid.Grid[*Page]
	version   atomic.Int64
	started   bool
	closed    bool
	blockSize float64

	attached, stale, failed, evicted uint64
}

func NewManager(gen Generator, opts Options) (*Manager, error) {
	if gen == nil {
		return nil, errors.New("paging: generator is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Scene == nil {
		opts.Scene = NopScene{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxSchedulePerTick <= 0 {
		opts.MaxSchedulePerTick = opts.QueueSize
	}

	id := uuid.NewString()
	logger := opts.Logger.WithField("manager", id)
	return &Manager{
		id:        id,
		opts:      opts,
		scene:     opts.Scene,
		log:       logger,
		metrics:   newMetrics(opts.Registerer, id),
		loader:    NewLoader(gen, opts.Workers, opts.QueueSize, logger),
		pages:     grid.New[*Page](),
		blockSize: opts.PageSize / float64(opts.Resolution),
	}, nil
}

func (m *Manager) ID() string { return m.id }

// Init starts the load workers.
func (m *Manager) Init(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}
	if err := m.loader.Start(ctx); err != nil {
		return err
	}
	m.started = true
	m.log.WithFields(logrus.Fields{
		"page_size":  m.opts.PageSize,
		"resolution": m.opts.Resolution,
		"workers":    m.opts.Workers,
	}).Info("paging manager started")
	return nil
}

// Shutdown stops the workers, detaches every loaded page and empties the grid.
func (m *Manager) Shutdown() error {
	if m.closed {
		return nil
	}
	m.closed = true
	err := m.loader.Close()
	for _, page := range m.pages.Cells() {
		if page.loaded {
			m.scene.Detach(page)
		}
	}
	m.pages.Clear()
	m.refreshGauges()
	m.log.Info("paging manager stopped")
	return err
}

// IncrementPageVersion invalidates content generated or in flight for older
// versions. Loaded pages are regenerated on following updates.
func (m *Manager) IncrementPageVersion() int64 {
	v := m.version.Add(1)
	m.log.WithField("version", v).Debug("page version incremented")
	return v
}

func (m *Manager) PageVersion() int64 { return m.version.Load() }

// Update advances the manager by tpf seconds with the viewer at (viewX, viewZ).
func (m *Manager) Update(tpf, viewX, viewZ float64) error {
	if m.closed {
		return ErrClosed
	}
	if !m.started {
		return ErrNotStarted
	}
	m.attachCompleted()
	m.scheduleLoads(viewX, viewZ)
	m.updateVisibility(viewX, viewZ)
	m.evict(tpf, viewX, viewZ)
	m.refreshGauges()
	return nil
}

func (m *Manager) attachCompleted() {
	for _, task := range m.loader.Poll(0) {
		req := task.Request()
		res, _ := task.Result()
		m.metrics.instrumentLoad(res.Duration)

		page, ok := m.pages.Get(req.X, req.Z)
		if !ok || page.task != task {
			continue
		}
		page.pending = false
		page.task = nil
		fields := logrus.Fields{"page_x": req.X, "page_z": req.Z, "version": req.Version}

		switch {
		case res.Err != nil:
			m.failed++
			m.metrics.instrumentDiscard(reasonError)
			if errors.Is(res.Err, context.Canceled) {
				break
			}
			page.failures++
			entry := m.log.WithFields(fields).WithField("failures", page.failures).WithError(res.Err)
			switch {
			case permanent(res.Err):
				page.rejected = true
				page.rejectedVersion = req.Version
				entry.Error("page load failed permanently, waiting for a page version change")
			case page.failures == 1:
				entry.Warn("page load failed, retrying")
			default:
				entry.Debug("page load failed again")
			}
		case !res.OK:
			m.metrics.instrumentDiscard(reasonNoData)
			m.log.WithFields(fields).Debug("no data for page")
		case req.Version != m.version.Load():
			m.stale++
			m.metrics.instrumentDiscard(reasonStale)
			m.log.WithFields(fields).Debug("discarded stale page load")
		default:
			m.attach(page, req.Version, res.Content)
		}
	}
}

func (m *Manager) attach(page *Page, version int64, content *PageContent) {
	if page.loaded {
		m.scene.Detach(page)
	}
	page.Blocks = m.buildBlocks(page, content)
	page.loaded = true
	page.version = version
	page.idle = false
	page.cacheTimer = 0
	page.failures = 0
	page.rejected = false
	for _, b := range page.Blocks {
		m.scene.SetNodes(page, b)
	}
	m.attached++
	m.log.WithFields(logrus.Fields{
		"page_x":     page.X,
		"page_z":     page.Z,
		"instances":  page.Instances(),
		"from_store": content.FromStore,
	}).Debug("page attached")
}

func (m *Manager) buildBlocks(page *Page, content *PageContent) []*Block {
	res := m.opts.Resolution
	byCell := make(map[[2]int]BlockContent, len(content.Blocks))
	for _, bc := range content.Blocks {
		byCell[[2]int{bc.X, bc.Z}] = bc
	}
	defaultRealMax := DefaultRealMax(m.opts.PageSize)
	blocks := make([]*Block, 0, res*res)
	for bz := 0; bz < res; bz++ {
		for bx := 0; bx < res; bx++ {
			xMin := page.Bounds.XMin + float64(bx)*m.blockSize
			zMin := page.Bounds.ZMin + float64(bz)*m.blockSize
			b := &Block{
				X:       bx,
				Z:       bz,
				Bounds:  NewRectBounds(xMin, zMin, xMin+m.blockSize, zMin+m.blockSize),
				RealMax: defaultRealMax,
				Nodes:   make([]Node, len(m.opts.DetailLevels)),
			}
			if bc, ok := byCell[[2]int{bx, bz}]; ok {
				b.Layers = bc.Layers
				if bc.RealMax > b.RealMax {
					b.RealMax = bc.RealMax
				}
			}
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func (m *Manager) cell(v float64) int {
	return int(math.Floor(v / m.opts.PageSize))
}

func (m *Manager) newPage(x, z int) (*Page, error) {
	key, err := grid.Hash(x, z)
	if err != nil {
		return nil, err
	}
	xMin := float64(x) * m.opts.PageSize
	zMin := float64(z) * m.opts.PageSize
	page := &Page{
		X:      x,
		Z:      z,
		Key:    key,
		Bounds: NewRectBounds(xMin, zMin, xMin+m.opts.PageSize, zMin+m.opts.PageSize),
	}
	if err := m.pages.Put(page); err != nil {
		return nil, err
	}
	return page, nil
}

func (m *Manager) maxFar() float64 {
	return m.opts.DetailLevels[len(m.opts.DetailLevels)-1].FarDistance
}

// inRange reports whether any part of the page is within the farthest detail
// level of the viewer.
func (m *Manager) inRange(page *Page, viewX, viewZ float64) bool {
	far := m.maxFar()
	if page.loaded && len(page.Blocks) > 0 {
		for _, b := range page.Blocks {
			limit := far + b.RealMax
			if b.Bounds.DistSq(viewX, viewZ) < limit*limit {
				return true
			}
		}
		return false
	}
	// Without content, judge the page by its blocks at the default radius.
	limit := far + DefaultRealMax(m.opts.PageSize)
	for bz := 0; bz < m.opts.Resolution; bz++ {
		for bx := 0; bx < m.opts.Resolution; bx++ {
			dx := viewX - (page.Bounds.XMin + (float64(bx)+0.5)*m.blockSize)
			dz := viewZ - (page.Bounds.ZMin + (float64(bz)+0.5)*m.blockSize)
			if dx*dx+dz*dz < limit*limit {
				return true
			}
		}
	}
	return false
}

func (m *Manager) scheduleLoads(viewX, viewZ float64) {
	cx, cz := m.cell(viewX), m.cell(viewZ)
	r := m.opts.GridRadius
	for z := cz - r; z <= cz+r; z++ {
		for x := cx - r; x <= cx+r; x++ {
			if !grid.InRange(x, z) {
				continue
			}
			if _, ok := m.pages.Get(x, z); ok {
				continue
			}
			xMin, zMin := float64(x)*m.opts.PageSize, float64(z)*m.opts.PageSize
			candidate := &Page{Bounds: NewRectBounds(xMin, zMin, xMin+m.opts.PageSize, zMin+m.opts.PageSize)}
			if !m.inRange(candidate, viewX, viewZ) {
				continue
			}
			if _, err := m.newPage(x, z); err != nil {
				m.log.WithError(err).Warn("create page")
			}
		}
	}

	current := m.version.Load()
	var candidates []*Page
	m.pages.Each(func(page *Page) bool {
		if page.pending || (page.rejected && page.rejectedVersion == current) {
			return true
		}
		if !page.loaded || page.version != current {
			candidates = append(candidates, page)
		}
		return true
	})
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Bounds.DistSq(viewX, viewZ) < candidates[j].Bounds.DistSq(viewX, viewZ)
	})

	budget := m.opts.MaxSchedulePerTick
	for _, page := range candidates {
		if budget == 0 {
			return
		}
		if err := m.schedule(page, current); err != nil {
			if !errors.Is(err, ErrQueueFull) {
				m.log.WithError(err).Warn("schedule page load")
			}
			return
		}
		budget--
	}
}

func (m *Manager) schedule(page *Page, version int64) error {
	task, err := m.loader.Schedule(LoadRequest{
		X:          page.X,
		Z:          page.Z,
		Version:    version,
		PageSize:   m.opts.PageSize,
		Resolution: m.opts.Resolution,
	})
	if err != nil {
		return err
	}
	page.pending = true
	page.task = task
	m.metrics.scheduled.Inc()
	return nil
}

func (m *Manager) updateVisibility(viewX, viewZ float64) {
	levels := m.opts.DetailLevels
	m.pages.Each(func(page *Page) bool {
		if !page.loaded {
			return true
		}
		for _, b := range page.Blocks {
			distSq := b.Bounds.DistSq(viewX, viewZ)
			for i, lv := range levels {
				far := lv.FarDistance + b.RealMax
				near := 0.0
				if i > 0 {
					near = levels[i-1].FarDistance + b.RealMax
				}
				visible := distSq < far*far && distSq >= near*near
				fade := 0.0
				if visible {
					fade = 1
					if lv.FadeEnabled && lv.FadeRange > 0 {
						if d := math.Sqrt(distSq); d > far-lv.FadeRange {
							fade = (far - d) / lv.FadeRange
						}
					}
				}
				node := &b.Nodes[i]
				if node.Visible != visible || node.Fade != fade {
					node.Visible = visible
					node.Fade = fade
					m.scene.SetVisible(page, b, i, visible, fade)
				}
			}
		}
		return true
	})
}

func (m *Manager) evict(tpf, viewX, viewZ float64) {
	lifetime := m.opts.CacheLifetime.Seconds()
	var expired []*Page
	m.pages.Each(func(page *Page) bool {
		if page.pending {
			return true
		}
		if m.inRange(page, viewX, viewZ) {
			page.idle = false
			page.cacheTimer = 0
			return true
		}
		if !m.opts.CacheEnabled || !page.loaded {
			expired = append(expired, page)
			return true
		}
		if !page.idle {
			page.idle = true
			page.cacheTimer = 0
			return true
		}
		page.cacheTimer += tpf
		if page.cacheTimer > lifetime {
			expired = append(expired, page)
		}
		return true
	})
	for _, page := range expired {
		m.unload(page)
	}
}

func (m *Manager) unload(page *Page) {
	if page.loaded {
		m.scene.Detach(page)
		page.loaded = false
		page.Blocks = nil
	}
	page.idle = false
	page.cacheTimer = 0
	page.pending = false
	page.task = nil
	m.pages.Remove(page.X, page.Z)
	m.evicted++
	m.metrics.evictions.Inc()
}

// LoadPage schedules a load for the page at (x, z) unless it is already
// loaded at the current version or a load is in flight.
func (m *Manager) LoadPage(x, z int) error {
	if m.closed {
		return ErrClosed
	}
	if !m.started {
		return ErrNotStarted
	}
	page, ok := m.pages.Get(x, z)
	if !ok {
		var err error
		if page, err = m.newPage(x, z); err != nil {
			return err
		}
	}
	current := m.version.Load()
	if page.pending || (page.loaded && page.version == current) {
		return nil
	}
	page.rejected = false
	return m.schedule(page, current)
}

// UnloadPage detaches and removes the page at (x, z). It is a no-op when no
// such page exists. An in-flight load for the page is discarded on arrival.
func (m *Manager) UnloadPage(x, z int) {
	if page, ok := m.pages.Get(x, z); ok {
		m.unload(page)
	}
}

func (m *Manager) Page(x, z int) (*Page, bool) {
	return m.pages.Get(x, z)
}

// Pages lists resident pages in key order.
func (m *Manager) Pages() []*Page {
	return m.pages.Cells()
}

func (m *Manager) Stats() Stats {
	s := Stats{
		Version:  m.version.Load(),
		Attached: m.attached,
		Stale:    m.stale,
		Failed:   m.failed,
		Evicted:  m.evicted,
	}
	m.pages.Each(func(page *Page) bool {
		s.Pages++
		if page.loaded {
			s.Loaded++
			s.Instances += page.Instances()
		}
		if page.pending {
			s.Pending++
		}
		if page.idle {
			s.Idle++
		}
		if page.rejected {
			s.Rejected++
		}
		return true
	})
	return s
}

func (m *Manager) refreshGauges() {
	s := m.Stats()
	m.metrics.residentPages.Set(float64(s.Pages))
	m.metrics.loadedPages.Set(float64(s.Loaded))
	m.metrics.pendingTasks.Set(float64(m.loader.Outstanding()))
}

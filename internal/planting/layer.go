package planting

import (
	"errors"
	"fmt"
	"strings"

	"biomonkey/internal/config"
)

var ErrUnknownStrategy = errors.New("planting: unknown strategy")

// Strategy selects how candidate positions are drawn.
type Strategy uint8

const (
	Uniform Strategy = iota
	Poisson
	Perlin
)

func (s Strategy) String() string {
	switch s {
	case Uniform:
		return "uniform"
	case Poisson:
		return "poisson"
	case Perlin:
		return "perlin"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "uniform", "":
		return Uniform, nil
	case "poisson":
		return Poisson, nil
	case "perlin":
		return Perlin, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownStrategy, name)
	}
}

// ScaleMode is the response curve applied to a sampled density.
type ScaleMode uint8

const (
	Linear ScaleMode = iota
	Quadratic
	LinearInverted
	QuadraticInverted
)

func (m ScaleMode) String() string {
	switch m {
	case Linear:
		return "linear"
	case Quadratic:
		return "quadratic"
	case LinearInverted:
		return "linear_inverted"
	case QuadraticInverted:
		return "quadratic_inverted"
	default:
		return fmt.Sprintf("scale(%d)", uint8(m))
	}
}

func ParseScaleMode(name string) (ScaleMode, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "_")) {
	case "linear", "":
		return Linear, nil
	case "quadratic":
		return Quadratic, nil
	case "linear_inverted":
		return LinearInverted, nil
	case "quadratic_inverted":
		return QuadraticInverted, nil
	default:
		return 0, fmt.Errorf("%w: scaling %q", ErrUnknownStrategy, name)
	}
}

// Apply maps a density in [0,1] through the curve.
func (m ScaleMode) Apply(d float64) float64 {
	switch m {
	case Quadratic:
		return d * d
	case LinearInverted:
		return 1 - d
	case QuadraticInverted:
		return 1 - d*d
	default:
		return d
	}
}

// Source names the raster a layer samples its density from.
type Source uint8

const (
	SourceBiotope Source = iota
	SourceAlpha
	SourceSoil
)

func (s Source) String() string {
	switch s {
	case SourceAlpha:
		return "alpha"
	case SourceSoil:
		return "soil"
	default:
		return "biotope"
	}
}

func ParseSource(name string) (Source, error) {
	switch strings.ToLower(name) {
	case "biotope", "":
		return SourceBiotope, nil
	case "alpha":
		return SourceAlpha, nil
	case "soil":
		return SourceSoil, nil
	default:
		return 0, fmt.Errorf("unknown density source %q", name)
	}
}

// Layer holds the planting parameters of one vegetation layer.
type Layer struct {
	ID                    int
	Name                  string
	Strategy              Strategy
	Source                Source
	Textures              []int
	DensityMultiplier     float64
	Scaling               ScaleMode
	Threshold             float64
	Binary                bool
	BinaryThreshold       float64
	MinScale              float64
	MaxScale              float64
	MaxSlope              float64
	InstanceRadius        float64
	PoissonMinDistance    float64
	PoissonRejectionLimit int
	NoiseScale            float64
	InvertNoise           bool
}

func LayerFromConfig(cfg config.LayerConfig) (Layer, error) {
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return Layer{}, err
	}
	scaling, err := ParseScaleMode(cfg.Scaling)
	if err != nil {
		return Layer{}, err
	}
	source, err := ParseSource(cfg.Source)
	if err != nil {
		return Layer{}, err
	}
	textures := make([]int, len(cfg.Textures))
	copy(textures, cfg.Textures)
	return Layer{
		ID:                    cfg.ID,
		Name:                  cfg.Name,
		Strategy:              strategy,
		Source:                source,
		Textures:              textures,
		DensityMultiplier:     cfg.DensityMultiplier,
		Scaling:               scaling,
		Threshold:             cfg.Threshold,
		Binary:                cfg.Binary,
		BinaryThreshold:       cfg.BinaryThreshold,
		MinScale:              cfg.MinScale,
		MaxScale:              cfg.MaxScale,
		MaxSlope:              cfg.MaxSlope,
		InstanceRadius:        cfg.InstanceRadius,
		PoissonMinDistance:    cfg.PoissonMinDistance,
		PoissonRejectionLimit: cfg.PoissonRejectionLimit,
		NoiseScale:            cfg.NoiseScale,
		InvertNoise:           cfg.InvertNoise,
	}, nil
}

// WorldScale maps a record's scale seed in [0,1] onto [MinScale, MaxScale].
func (l *Layer) WorldScale(seed float32) float64 {
	return l.MinScale + float64(seed)*(l.MaxScale-l.MinScale)
}

// response turns the strongest texture density into the acceptance value.
func (l *Layer) response(d float64) float64 {
	d = l.Scaling.Apply(d)
	if l.Binary {
		if d >= l.BinaryThreshold {
			return 1
		}
		return 0
	}
	return d
}

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/segmentio/encoding/json"
	"gopkg.in/yaml.v3"
)

// Duration is a config-friendly wrapper around time.Duration that accepts human
// readable strings such as "150ms" while still allowing numeric nanoseconds.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Seconds is the duration in (fractional) seconds, the unit frame deltas use.
func (d Duration) Seconds() float64 {
	return time.Duration(d).Seconds()
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values decode
// to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

// UnmarshalText parses duration strings; TOML decoding goes through here.
func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: expected scalar at line %d", node.Line)
	}
	if node.ShortTag() == "!!int" {
		var n int64
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	return d.UnmarshalText([]byte(node.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config captures the tunables of the paging and vegetation engine.
type Config struct {
	Paging   PagingConfig   `json:"paging" yaml:"paging" toml:"paging"`
	Loader   LoaderConfig   `json:"loader" yaml:"loader" toml:"loader"`
	Terrain  TerrainConfig  `json:"terrain" yaml:"terrain" toml:"terrain"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
	MapCache MapCacheConfig `json:"mapCache" yaml:"map_cache" toml:"map_cache"`
	Layers   []LayerConfig  `json:"layers" yaml:"layers" toml:"layers"`
	Log      LogConfig      `json:"log" yaml:"log" toml:"log"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" toml:"metrics"`
}

type PagingConfig struct {
	PageSize           float64             `json:"pageSize" yaml:"page_size" toml:"page_size"`
	Resolution         int                 `json:"resolution" yaml:"resolution" toml:"resolution"` // blocks per page side
	GridRadius         int                 `json:"gridRadius" yaml:"grid_radius" toml:"grid_radius"`
	DetailLevels       []DetailLevelConfig `json:"detailLevels" yaml:"detail_levels" toml:"detail_levels"`
	CacheEnabled       bool                `json:"cacheEnabled" yaml:"cache_enabled" toml:"cache_enabled"`
	CacheLifetime      Duration            `json:"cacheLifetime" yaml:"cache_lifetime" toml:"cache_lifetime"`
	TickRate           Duration            `json:"tickRate" yaml:"tick_rate" toml:"tick_rate"`
	MaxSchedulePerTick int                 `json:"maxSchedulePerTick" yaml:"max_schedule_per_tick" toml:"max_schedule_per_tick"`
}

type DetailLevelConfig struct {
	FarDistance float64 `json:"farDistance" yaml:"far_distance" toml:"far_distance"`
	FadeRange   float64 `json:"fadeRange" yaml:"fade_range" toml:"fade_range"`
	FadeEnabled bool    `json:"fadeEnabled" yaml:"fade_enabled" toml:"fade_enabled"`
}

type LoaderConfig struct {
	Workers   int `json:"workers" yaml:"workers" toml:"workers"`
	QueueSize int `json:"queueSize" yaml:"queue_size" toml:"queue_size"`
}

type TerrainConfig struct {
	Provider      string  `json:"provider" yaml:"provider" toml:"provider"` // "noise" or "image"
	Seed          int64   `json:"seed" yaml:"seed" toml:"seed"`
	Frequency     float64 `json:"frequency" yaml:"frequency" toml:"frequency"`
	Amplitude     float64 `json:"amplitude" yaml:"amplitude" toml:"amplitude"`
	Octaves       int     `json:"octaves" yaml:"octaves" toml:"octaves"`
	Persistence   float64 `json:"persistence" yaml:"persistence" toml:"persistence"`
	Lacunarity    float64 `json:"lacunarity" yaml:"lacunarity" toml:"lacunarity"`
	MapSize       int     `json:"mapSize" yaml:"map_size" toml:"map_size"`
	BiotopeLayers int     `json:"biotopeLayers" yaml:"biotope_layers" toml:"biotope_layers"`
	WorldRadius   int     `json:"worldRadius" yaml:"world_radius" toml:"world_radius"` // pages; 0 = unbounded
	FlipZ         bool    `json:"flipZ" yaml:"flip_z" toml:"flip_z"`
}

type StorageConfig struct {
	TextureFolder string `json:"textureFolder" yaml:"texture_folder" toml:"texture_folder"`
	Extension     string `json:"extension" yaml:"extension" toml:"extension"`
	Persist       bool   `json:"persist" yaml:"persist" toml:"persist"`
}

type MapCacheConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	NumCounters int64    `json:"numCounters" yaml:"num_counters" toml:"num_counters"`
	MaxCost     int64    `json:"maxCost" yaml:"max_cost" toml:"max_cost"` // bytes
	TTL         Duration `json:"ttl" yaml:"ttl" toml:"ttl"`
}

type LayerConfig struct {
	ID                    int     `json:"id" yaml:"id" toml:"id"`
	Name                  string  `json:"name" yaml:"name" toml:"name"`
	Strategy              string  `json:"strategy" yaml:"strategy" toml:"strategy"` // uniform, poisson, perlin
	Source                string  `json:"source" yaml:"source" toml:"source"`       // alpha or biotope
	Textures              []int   `json:"textures" yaml:"textures" toml:"textures"`
	DensityMultiplier     float64 `json:"densityMultiplier" yaml:"density_multiplier" toml:"density_multiplier"`
	Scaling               string  `json:"scaling" yaml:"scaling" toml:"scaling"`
	Threshold             float64 `json:"threshold" yaml:"threshold" toml:"threshold"`
	Binary                bool    `json:"binary" yaml:"binary" toml:"binary"`
	BinaryThreshold       float64 `json:"binaryThreshold" yaml:"binary_threshold" toml:"binary_threshold"`
	MinScale              float64 `json:"minScale" yaml:"min_scale" toml:"min_scale"`
	MaxScale              float64 `json:"maxScale" yaml:"max_scale" toml:"max_scale"`
	MaxSlope              float64 `json:"maxSlope" yaml:"max_slope" toml:"max_slope"` // degrees, 0 disables
	InstanceRadius        float64 `json:"instanceRadius" yaml:"instance_radius" toml:"instance_radius"`
	PoissonMinDistance    float64 `json:"poissonMinDistance" yaml:"poisson_min_distance" toml:"poisson_min_distance"`
	PoissonRejectionLimit int     `json:"poissonRejectionLimit" yaml:"poisson_rejection_limit" toml:"poisson_rejection_limit"`
	NoiseScale            float64 `json:"noiseScale" yaml:"noise_scale" toml:"noise_scale"`
	InvertNoise           bool    `json:"invertNoise" yaml:"invert_noise" toml:"invert_noise"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level" toml:"level"`
	File       string `json:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `json:"maxSizeMb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"max_age_days" toml:"max_age_days"`
	MaxBackups int    `json:"maxBackups" yaml:"max_backups" toml:"max_backups"`
}

type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen" toml:"listen"`
}

// Load reads configuration from path if provided, picking the decoder by file
// extension. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(filepath.Ext(path), data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Decode unmarshals data in the format named by ext (".json", ".yaml", ".yml",
// ".toml") on top of cfg.
func Decode(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case ".json", "":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

func Default() *Config {
	return &Config{
		Paging: PagingConfig{
			PageSize:   128,
			Resolution: 4,
			GridRadius: 2,
			DetailLevels: []DetailLevelConfig{
				{FarDistance: 160, FadeRange: 20, FadeEnabled: true},
				{FarDistance: 320, FadeRange: 40, FadeEnabled: true},
			},
			CacheEnabled:       true,
			CacheLifetime:      Duration(5 * time.Second),
			TickRate:           Duration(33 * time.Millisecond),
			MaxSchedulePerTick: 8,
		},
		Loader: LoaderConfig{
			Workers:   1,
			QueueSize: 64,
		},
		Terrain: TerrainConfig{
			Provider:      "noise",
			Seed:          1337,
			Frequency:     0.003,
			Amplitude:     64,
			Octaves:       4,
			Persistence:   0.45,
			Lacunarity:    2.0,
			MapSize:       64,
			BiotopeLayers: 4,
		},
		Storage: StorageConfig{
			TextureFolder: "",
			Extension:     "bmk",
			Persist:       false,
		},
		MapCache: MapCacheConfig{
			Enabled:     true,
			NumCounters: 10_000,
			MaxCost:     64 << 20,
			TTL:         Duration(2 * time.Minute),
		},
		Layers: []LayerConfig{
			{
				ID:                1,
				Name:              "grass",
				Strategy:          "uniform",
				Source:            "biotope",
				Textures:          []int{0},
				DensityMultiplier: 0.1,
				Scaling:           "linear",
				MinScale:          0.8,
				MaxScale:          1.2,
				MaxSlope:          35,
			},
			{
				ID:                    2,
				Name:                  "trees",
				Strategy:              "poisson",
				Source:                "biotope",
				Textures:              []int{1, 2},
				DensityMultiplier:     0.01,
				Scaling:               "quadratic",
				Threshold:             0.1,
				MinScale:              0.7,
				MaxScale:              1.4,
				MaxSlope:              25,
				InstanceRadius:        4,
				PoissonMinDistance:    4,
				PoissonRejectionLimit: 30,
			},
			{
				ID:                3,
				Name:              "shrubs",
				Strategy:          "perlin",
				Source:            "alpha",
				Textures:          []int{1},
				DensityMultiplier: 0.03,
				Scaling:           "linear",
				MinScale:          0.5,
				MaxScale:          1.0,
				NoiseScale:        0.02,
			},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			MaxBackups: 3,
		},
	}
}

var (
	strategies = map[string]bool{"": true, "uniform": true, "poisson": true, "perlin": true}
	scalings   = map[string]bool{
		"": true, "linear": true, "quadratic": true,
		"linear_inverted": true, "quadratic_inverted": true,
	}
	sources   = map[string]bool{"": true, "alpha": true, "biotope": true, "soil": true}
	providers = map[string]bool{"noise": true, "image": true}
)

func (c *Config) Validate() error {
	if c.Paging.PageSize <= 0 {
		return errors.New("paging.pageSize must be positive")
	}
	if c.Paging.Resolution <= 0 {
		return errors.New("paging.resolution must be positive")
	}
	if c.Paging.GridRadius < 0 {
		return errors.New("paging.gridRadius cannot be negative")
	}
	if len(c.Paging.DetailLevels) == 0 {
		return errors.New("paging.detailLevels must not be empty")
	}
	prev := 0.0
	for i, lvl := range c.Paging.DetailLevels {
		if lvl.FarDistance <= prev {
			return fmt.Errorf("paging.detailLevels[%d].farDistance must be greater than the previous level", i)
		}
		if lvl.FadeRange < 0 {
			return fmt.Errorf("paging.detailLevels[%d].fadeRange cannot be negative", i)
		}
		prev = lvl.FarDistance
	}
	if c.Paging.CacheLifetime < 0 {
		return errors.New("paging.cacheLifetime cannot be negative")
	}
	if c.Paging.MaxSchedulePerTick < 0 {
		return errors.New("paging.maxSchedulePerTick cannot be negative")
	}
	if c.Loader.Workers <= 0 {
		return errors.New("loader.workers must be positive")
	}
	if c.Loader.QueueSize <= 0 {
		return errors.New("loader.queueSize must be positive")
	}
	if !providers[c.Terrain.Provider] {
		return fmt.Errorf("terrain.provider %q is not one of noise, image", c.Terrain.Provider)
	}
	if c.Terrain.Provider == "image" && c.Storage.TextureFolder == "" {
		return errors.New("storage.textureFolder must be set for the image provider")
	}
	if c.Terrain.MapSize <= 1 {
		return errors.New("terrain.mapSize must be greater than one")
	}
	if c.Terrain.BiotopeLayers <= 0 {
		return errors.New("terrain.biotopeLayers must be positive")
	}
	if c.Storage.Persist && c.Storage.TextureFolder == "" {
		return errors.New("storage.textureFolder must be set when storage.persist is enabled")
	}
	if c.MapCache.Enabled && (c.MapCache.NumCounters <= 0 || c.MapCache.MaxCost <= 0) {
		return errors.New("mapCache numCounters and maxCost must be positive")
	}

	ids := make(map[int]bool, len(c.Layers))
	for i, layer := range c.Layers {
		if ids[layer.ID] {
			return fmt.Errorf("layers[%d]: duplicate id %d", i, layer.ID)
		}
		ids[layer.ID] = true
		if err := layer.validate(); err != nil {
			return fmt.Errorf("layers[%d] (%s): %w", i, layer.Name, err)
		}
	}
	return nil
}

func (l LayerConfig) validate() error {
	if !strategies[strings.ToLower(l.Strategy)] {
		return fmt.Errorf("unknown strategy %q", l.Strategy)
	}
	if !scalings[strings.ToLower(l.Scaling)] {
		return fmt.Errorf("unknown scaling %q", l.Scaling)
	}
	if !sources[strings.ToLower(l.Source)] {
		return fmt.Errorf("unknown source %q", l.Source)
	}
	if len(l.Textures) == 0 {
		return errors.New("textures must not be empty")
	}
	if l.DensityMultiplier < 0 {
		return errors.New("densityMultiplier cannot be negative")
	}
	if l.Threshold < 0 || l.Threshold > 1 {
		return errors.New("threshold must be within [0,1]")
	}
	if l.MinScale < 0 || l.MaxScale < l.MinScale {
		return errors.New("scale range must satisfy 0 <= minScale <= maxScale")
	}
	if l.MaxSlope < 0 || l.MaxSlope > 90 {
		return errors.New("maxSlope must be within [0,90] degrees")
	}
	if strings.EqualFold(l.Strategy, "poisson") && l.PoissonMinDistance <= 0 {
		return errors.New("poissonMinDistance must be positive for the poisson strategy")
	}
	return nil
}

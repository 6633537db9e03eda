// Package config loads the YAML configuration shared by the commands.
package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/render"
	"github.com/tilezen/go-tilefetch/style"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Layer  LayerConfig  `yaml:"layer"`
	Style  StyleConfig  `yaml:"style"`
	Render RenderConfig `yaml:"render"`
	Cache  CacheConfig  `yaml:"cache"`
	Server ServerConfig `yaml:"server"`
}

type LayerConfig struct {
	Name string `yaml:"name"`
	// Source is a GeoJSON file.
	Source     string        `yaml:"source"`
	CRS        string        `yaml:"crs"`
	MinVisible float64       `yaml:"min_visible"`
	MaxVisible float64       `yaml:"max_visible"`
	FetchDelay time.Duration `yaml:"fetch_delay"`
}

type StyleConfig struct {
	// Shape is ellipse, rectangle or triangle.
	Shape        string  `yaml:"shape"`
	Size         float64 `yaml:"size"`
	Fill         string  `yaml:"fill"`
	Outline      string  `yaml:"outline"`
	OutlineWidth float64 `yaml:"outline_width"`
	LineColor    string  `yaml:"line_color"`
	LineWidth    float64 `yaml:"line_width"`
	// FeatureSymbols also draws the symbol attached to each feature.
	FeatureSymbols bool `yaml:"feature_symbols"`
}

type RenderConfig struct {
	PixelDensity float64 `yaml:"pixel_density"`
	Format       string  `yaml:"format"`
	JPEGQuality  int     `yaml:"jpeg_quality"`
	// FeatureInfoURL, when set, is asked for feature info when nothing is
	// hit locally. See render.HTTPMapInfoFetcher for the placeholders.
	FeatureInfoURL string `yaml:"feature_info_url"`
}

type CacheConfig struct {
	// Kind is none, memory, disk, bolt, mbtiles or s3.
	Kind string `yaml:"kind"`
	// Path is the directory or database file for disk, bolt and mbtiles.
	Path string `yaml:"path"`
	// MemoryEntries sizes an in-memory LRU placed in front of Kind. Zero
	// disables it.
	MemoryEntries int    `yaml:"memory_entries"`
	Bucket        string `yaml:"bucket"`
	PathTemplate  string `yaml:"path_template"`
	RequesterPays bool   `yaml:"requester_pays"`
}

type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Layer: LayerConfig{
			Name:       "features",
			CRS:        "EPSG:4326",
			FetchDelay: 500 * time.Millisecond,
		},
		Style: StyleConfig{
			Shape:        "ellipse",
			Size:         style.DefaultSymbolSize,
			Fill:         "#e6194bff",
			Outline:      "#ffffffff",
			OutlineWidth: 1,
			LineColor:    "#3c3c3cff",
			LineWidth:    1,
		},
		Render: RenderConfig{
			PixelDensity: 1,
			Format:       "png",
			JPEGQuality:  render.DefaultJPEGQuality,
		},
		Cache: CacheConfig{
			Kind:          "memory",
			MemoryEntries: 1024,
			PathTemplate:  "{z}/{x}/{y}.{ext}",
		},
		Server: ServerConfig{
			Listen:       ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
}

// Load reads path and merges it over Default. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	// Keys missing from the file keep their default values.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if _, err := render.ParseFormat(c.Render.Format); err != nil {
		return err
	}
	if c.Render.PixelDensity <= 0 {
		return fmt.Errorf("pixel_density must be positive, got %v", c.Render.PixelDensity)
	}
	switch c.Cache.Kind {
	case "", "none", "memory":
	case "disk", "bolt", "mbtiles":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache kind %s needs a path", c.Cache.Kind)
		}
	case "s3":
		if c.Cache.Bucket == "" {
			return errors.New("cache kind s3 needs a bucket")
		}
	default:
		return fmt.Errorf("unknown cache kind %q", c.Cache.Kind)
	}
	if _, err := c.Style.Build(); err != nil {
		return err
	}
	return nil
}

// Build turns the style section into a style usable by the renderer.
func (s StyleConfig) Build() (style.Style, error) {
	shape, err := parseShape(s.Shape)
	if err != nil {
		return nil, err
	}

	fill, err := ParseColor(s.Fill)
	if err != nil {
		return nil, fmt.Errorf("fill: %w", err)
	}
	outline, err := ParseColor(s.Outline)
	if err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}
	line, err := ParseColor(s.LineColor)
	if err != nil {
		return nil, fmt.Errorf("line_color: %w", err)
	}

	result := style.Collection{
		&style.SymbolStyle{
			Shape:        shape,
			Size:         s.Size,
			Fill:         fill,
			Outline:      outline,
			OutlineWidth: s.OutlineWidth,
		},
		&style.VectorStyle{
			Fill:      fill,
			Line:      line,
			LineWidth: s.LineWidth,
		},
	}
	if s.FeatureSymbols {
		result = append(result, &style.FeatureSymbols{})
	}
	return result, nil
}

func parseShape(s string) (feature.Shape, error) {
	switch strings.ToLower(s) {
	case "", "ellipse", "circle":
		return feature.Ellipse, nil
	case "rectangle", "square":
		return feature.Rectangle, nil
	case "triangle":
		return feature.Triangle, nil
	}
	return feature.Ellipse, fmt.Errorf("unknown symbol shape %q", s)
}

// ParseColor parses #rrggbb or #rrggbbaa. An empty string is transparent.
func ParseColor(s string) (color.RGBA, error) {
	if s == "" {
		return color.RGBA{}, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

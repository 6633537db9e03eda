package render

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/internal/logutil"
	"github.com/tilezen/go-tilefetch/style"
)

var ErrEmptyViewport = errors.New("render: viewport has no pixels")

// DefaultJPEGQuality is used for JPEG output.
const DefaultJPEGQuality = 90

// GGRenderer draws with the gg software rasterizer. It holds no per-render
// state, so one instance may also be shared.
type GGRenderer struct {
	logger      *slog.Logger
	jpegQuality int

	mu     sync.RWMutex
	styles map[reflect.Type]StyleRenderer
}

// NewGGRenderer creates a renderer with the built-in style renderers.
// Icons are looked up in registry.
func NewGGRenderer(registry *BitmapRegistry, logger *slog.Logger) *GGRenderer {
	if registry == nil {
		registry = NewBitmapRegistry()
	}
	r := &GGRenderer{
		logger:      logutil.OrDiscard(logger),
		jpegQuality: DefaultJPEGQuality,
		styles:      map[reflect.Type]StyleRenderer{},
	}
	r.RegisterStyleRenderer(&style.SymbolStyle{}, SymbolStyleRenderer{})
	r.RegisterStyleRenderer(&style.VectorStyle{}, VectorStyleRenderer{})
	r.RegisterStyleRenderer(&style.FeatureSymbols{}, FeatureSymbolRenderer{Registry: registry})
	return r
}

// RegisterStyleRenderer makes sr draw every style with the same concrete
// type as sample.
func (r *GGRenderer) RegisterStyleRenderer(sample style.Style, sr StyleRenderer) {
	r.mu.Lock()
	r.styles[reflect.TypeOf(sample)] = sr
	r.mu.Unlock()
}

func (r *GGRenderer) StyleRenderer(s style.Style) (StyleRenderer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sr, ok := r.styles[reflect.TypeOf(s)]
	return sr, ok
}

func (r *GGRenderer) SetJPEGQuality(q int) {
	r.jpegQuality = q
}

func (r *GGRenderer) RenderToBitmap(vp Viewport, layers []Layer, pixelDensity float64, format Format) ([]byte, error) {
	start := time.Now()

	if pixelDensity <= 0 {
		pixelDensity = 1
	}
	w, h := vp.PixelSize(pixelDensity)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %vx%v", ErrEmptyViewport, vp.Width, vp.Height)
	}

	dc := gg.NewContext(w, h)
	defer dc.Close()
	dc.Scale(pixelDensity, pixelDensity)

	extent := vp.Extent()
	drawn := 0
	for _, l := range layers {
		if !l.Enabled() {
			continue
		}
		styles := style.StylesToApply(l.Style(), vp.Resolution)
		if len(styles) == 0 {
			continue
		}
		features := l.GetFeatures(extent, vp.Resolution)
		for _, s := range styles {
			sr, ok := r.StyleRenderer(s)
			if !ok {
				r.logger.Debug("no renderer for style", "layer", l.Name(), "style", fmt.Sprintf("%T", s))
				continue
			}
			for _, f := range features {
				if err := sr.Draw(dc, vp, s, f); err != nil {
					return nil, fmt.Errorf("failed to draw feature %d of layer %s: %w", f.ID, l.Name(), err)
				}
				drawn++
			}
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case JPEG:
		err = dc.EncodeJPEG(&buf, r.jpegQuality)
	default:
		err = dc.EncodePNG(&buf)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}

	r.logger.Debug("rendered bitmap", "width", w, "height", h, "drawn", drawn, "bytes", buf.Len(), "elapsed", time.Since(start))
	return buf.Bytes(), nil
}

// GetMapInfo hit tests every enabled layer, last layer first. Points are
// hit within half their symbol size, lines within half their width and
// polygons when pos falls inside.
func (r *GGRenderer) GetMapInfo(pos ScreenPosition, vp Viewport, layers []Layer) MapInfo {
	world := vp.ScreenToWorld(pos)
	info := MapInfo{
		ScreenPosition: pos,
		WorldPosition:  world,
		Resolution:     vp.Resolution,
	}

	extent := vp.Extent()
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if !l.Enabled() {
			continue
		}
		styles := style.StylesToApply(l.Style(), vp.Resolution)
		if len(styles) == 0 {
			continue
		}
		for _, f := range l.GetFeatures(extent, vp.Resolution) {
			tolerance := r.hitTolerance(styles, f) * vp.Resolution
			if hits(f.Geometry, world, tolerance) {
				info.Records = append(info.Records, MapInfoRecord{Layer: l, Feature: f})
			}
		}
	}
	return info
}

func (r *GGRenderer) hitTolerance(styles []style.Style, f *feature.Feature) float64 {
	size := 1.0
	for _, s := range styles {
		sr, ok := r.StyleRenderer(s)
		if !ok {
			continue
		}
		if sizer, ok := sr.(FeatureSizer); ok {
			size = math.Max(size, sizer.FeatureSize(s, f))
		}
	}
	return size * 0.5
}

func hits(g orb.Geometry, p orb.Point, tolerance float64) bool {
	switch g := g.(type) {
	case nil:
		return false
	case orb.Point:
		return planar.Distance(g, p) <= tolerance
	case orb.Polygon:
		return planar.PolygonContains(g, p) || planar.DistanceFrom(g, p) <= tolerance
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p) || planar.DistanceFrom(g, p) <= tolerance
	case orb.Collection:
		for _, c := range g {
			if hits(c, p, tolerance) {
				return true
			}
		}
		return false
	}
	return planar.DistanceFrom(g, p) <= tolerance
}

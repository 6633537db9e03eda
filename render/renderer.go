// Package render draws layers into encoded bitmaps and answers hit tests
// against what was drawn.
package render

import (
	"context"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/style"
)

// Layer is what a Renderer draws.
type Layer interface {
	Name() string
	Enabled() bool
	Style() style.Style
	GetFeatures(extent orb.Bound, resolution float64) []*feature.Feature
}

// Renderer draws layers. Implementations are pooled, so a Renderer is
// never used by two renders at once.
type Renderer interface {
	// RenderToBitmap draws layers as seen through vp and encodes the
	// result in format.
	RenderToBitmap(vp Viewport, layers []Layer, pixelDensity float64, format Format) ([]byte, error)
	// GetMapInfo returns the features under pos, topmost layer first.
	GetMapInfo(pos ScreenPosition, vp Viewport, layers []Layer) MapInfo
	// StyleRenderer returns the renderer for the concrete type of s.
	StyleRenderer(s style.Style) (StyleRenderer, bool)
}

// StyleRenderer draws one feature with one style.
type StyleRenderer interface {
	Draw(dc *gg.Context, vp Viewport, s style.Style, f *feature.Feature) error
}

// FeatureSizer is implemented by style renderers whose output extends
// beyond the feature geometry. Sizes are in pixels.
type FeatureSizer interface {
	// NeedsFeature reports whether the size depends on the feature. When
	// false, FeatureSize may be called with a nil feature.
	NeedsFeature(s style.Style) bool
	FeatureSize(s style.Style, f *feature.Feature) float64
}

// MapInfoRecord is one feature found by a hit test.
type MapInfoRecord struct {
	Layer   Layer
	Feature *feature.Feature
}

// MapInfo is the result of a hit test.
type MapInfo struct {
	ScreenPosition ScreenPosition
	WorldPosition  orb.Point
	Resolution     float64
	Records        []MapInfoRecord
}

// Feature returns the topmost feature found, or nil.
func (m MapInfo) Feature() *feature.Feature {
	if len(m.Records) == 0 {
		return nil
	}
	return m.Records[0].Feature
}

// RemoteMapInfoFetcher looks features up somewhere else when nothing was
// hit locally, for example a WMS GetFeatureInfo endpoint.
type RemoteMapInfoFetcher interface {
	GetRemoteMapInfo(ctx context.Context, pos ScreenPosition, vp Viewport, layers []Layer) (MapInfo, error)
}

package layer

import (
	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/style"
)

// Named is the part of a layer a RenderLayer borrows.
type Named interface {
	Name() string
	Style() style.Style
}

// RenderLayer draws a fixed set of features with the name and style of
// another layer.
type RenderLayer struct {
	source   Named
	features []*feature.Feature
}

func NewRenderLayer(source Named, features []*feature.Feature) *RenderLayer {
	return &RenderLayer{source: source, features: features}
}

func (l *RenderLayer) Name() string       { return l.source.Name() }
func (l *RenderLayer) Style() style.Style { return l.source.Style() }
func (l *RenderLayer) Enabled() bool      { return true }
func (l *RenderLayer) Opacity() float64   { return 1 }
func (l *RenderLayer) Source() Named      { return l.source }

// GetFeatures returns the wrapped features whatever the arguments.
func (l *RenderLayer) GetFeatures(orb.Bound, float64) []*feature.Feature {
	return l.features
}

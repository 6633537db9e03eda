// Package style holds the small set of style values the rasterizer needs to
// draw features and to size their symbols.
package style

import (
	"image/color"
	"math"

	"github.com/tilezen/go-tilefetch/feature"
)

// Style decides how features are drawn at a given resolution.
type Style interface {
	VisibleAt(resolution float64) bool
}

// Visibility is embedded by concrete styles. A zero MaxVisible means no
// upper bound.
type Visibility struct {
	MinVisible float64
	MaxVisible float64
	Disabled   bool
}

func (v Visibility) VisibleAt(resolution float64) bool {
	if v.Disabled {
		return false
	}
	max := v.MaxVisible
	if max == 0 {
		max = math.MaxFloat64
	}
	return resolution >= v.MinVisible && resolution <= max
}

// DefaultSymbolSize is the symbol size in pixels when none is configured.
const DefaultSymbolSize = 32.0

// SymbolStyle draws a shape at every vertex of point geometries.
type SymbolStyle struct {
	Visibility
	Shape        feature.Shape
	Size         float64
	Scale        float64
	Fill         color.RGBA
	Outline      color.RGBA
	OutlineWidth float64

	// SizeFunc, when set, overrides Size per feature. Sizing a tile then
	// requires looking at every feature in it.
	SizeFunc func(f *feature.Feature) float64
}

// SymbolSize returns the pixel size of the symbol for f, outline included.
func (s *SymbolStyle) SymbolSize(f *feature.Feature) float64 {
	size := s.Size
	if size <= 0 {
		size = DefaultSymbolSize
	}
	if s.SizeFunc != nil && f != nil {
		size = s.SizeFunc(f)
	}
	scale := s.Scale
	if scale <= 0 {
		scale = 1
	}
	return size*scale + 2*s.OutlineWidth
}

// VectorStyle draws lines and polygons.
type VectorStyle struct {
	Visibility
	Fill      color.RGBA
	Line      color.RGBA
	LineWidth float64
}

// Collection applies every contained style.
type Collection []Style

func (c Collection) VisibleAt(resolution float64) bool {
	for _, s := range c {
		if s != nil && s.VisibleAt(resolution) {
			return true
		}
	}
	return false
}

// StylesToApply flattens s into the leaf styles visible at resolution.
func StylesToApply(s Style, resolution float64) []Style {
	if s == nil {
		return nil
	}

	if c, ok := s.(Collection); ok {
		var result []Style
		for _, child := range c {
			result = append(result, StylesToApply(child, resolution)...)
		}
		return result
	}

	if !s.VisibleAt(resolution) {
		return nil
	}
	return []Style{s}
}

// FeatureSymbols draws the Symbol attached to each feature. Features
// without a symbol are skipped.
type FeatureSymbols struct {
	Visibility
}

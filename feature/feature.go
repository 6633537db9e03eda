// Package feature defines the geographic features that flow from providers
// through layers into the renderer.
package feature

import (
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var lastID atomic.Uint64

// NextID returns a process-unique feature id.
func NextID() uint64 {
	return lastID.Add(1)
}

// Feature is a geometry with optional properties and an optional symbol.
// A nil Symbol means the feature is drawn with its layer style only.
type Feature struct {
	ID         uint64
	Geometry   orb.Geometry
	Properties geojson.Properties
	Symbol     Symbol
}

// New creates a feature for geom with a fresh id.
func New(geom orb.Geometry) *Feature {
	return &Feature{
		ID:         NextID(),
		Geometry:   geom,
		Properties: geojson.Properties{},
	}
}

// NewPoint is a shorthand for New(orb.Point{x, y}).
func NewPoint(x, y float64) *Feature {
	return New(orb.Point{x, y})
}

// Extent returns the bounding box of the feature geometry. The second
// return is false when the feature has no geometry.
func (f *Feature) Extent() (orb.Bound, bool) {
	if f == nil || f.Geometry == nil {
		return orb.Bound{}, false
	}
	return f.Geometry.Bound(), true
}

// Copy returns a shallow copy of f carrying a new id. Geometry and
// properties are shared with the original until replaced.
func (f *Feature) Copy() *Feature {
	c := *f
	c.ID = NextID()
	return &c
}

// Extent returns the union of the extents of fs. The second return is false
// when no feature has a geometry.
func Extent(fs []*Feature) (orb.Bound, bool) {
	var (
		result orb.Bound
		found  bool
	)

	for _, f := range fs {
		b, ok := f.Extent()
		if !ok {
			continue
		}
		if !found {
			result = b
			found = true
			continue
		}
		result = result.Union(b)
	}

	return result, found
}

// ToGeoJSON converts fs into a GeoJSON feature collection. Features without
// geometry are skipped.
func ToGeoJSON(fs []*Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range fs {
		if f == nil || f.Geometry == nil {
			continue
		}
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	return fc
}

// FromGeoJSON converts a GeoJSON feature collection into features with
// fresh ids.
func FromGeoJSON(fc *geojson.FeatureCollection) []*Feature {
	result := make([]*Feature, 0, len(fc.Features))
	for _, gf := range fc.Features {
		if gf == nil || gf.Geometry == nil {
			continue
		}
		f := New(gf.Geometry)
		for k, v := range gf.Properties {
			f.Properties[k] = v
		}
		result = append(result, f)
	}
	return result
}

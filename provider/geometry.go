package provider

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/simplify"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
)

// Simplify reduces the vertices of line and polygon geometries with
// Douglas-Peucker. A zero Tolerance uses the query resolution, so removed
// vertices are below a pixel.
type Simplify struct {
	source    Provider
	Tolerance float64
}

func NewSimplify(source Provider) *Simplify {
	return &Simplify{source: source}
}

func (p *Simplify) CRS() string               { return p.source.CRS() }
func (p *Simplify) SetCRS(crs string)         { p.source.SetCRS(crs) }
func (p *Simplify) Extent() (orb.Bound, bool) { return p.source.Extent() }

func (p *Simplify) GetFeatures(ctx context.Context, fi fetch.FetchInfo) ([]*feature.Feature, error) {
	features, err := p.source.GetFeatures(ctx, fi)
	if err != nil {
		return nil, err
	}

	tolerance := p.Tolerance
	if tolerance <= 0 {
		tolerance = fi.Resolution
	}
	s := simplify.DouglasPeucker(tolerance)

	result := make([]*feature.Feature, 0, len(features))
	for _, f := range features {
		switch f.Geometry.(type) {
		case orb.Point, orb.MultiPoint, nil:
			result = append(result, f)
			continue
		}
		c := f.Copy()
		c.Geometry = s.Simplify(orb.Clone(f.Geometry))
		result = append(result, c)
	}
	return result, nil
}

// Intersection clips geometries to the queried extent grown by one
// resolution. Features falling completely outside are dropped.
type Intersection struct {
	source Provider
}

func NewIntersection(source Provider) *Intersection {
	return &Intersection{source: source}
}

func (p *Intersection) CRS() string               { return p.source.CRS() }
func (p *Intersection) SetCRS(crs string)         { p.source.SetCRS(crs) }
func (p *Intersection) Extent() (orb.Bound, bool) { return p.source.Extent() }

func (p *Intersection) GetFeatures(ctx context.Context, fi fetch.FetchInfo) ([]*feature.Feature, error) {
	features, err := p.source.GetFeatures(ctx, fi)
	if err != nil {
		return nil, err
	}

	box := fi.Grow(fi.Resolution).Extent

	result := make([]*feature.Feature, 0, len(features))
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		g := clip.Geometry(box, orb.Clone(f.Geometry))
		if g == nil || isEmpty(g) {
			continue
		}
		c := f.Copy()
		c.Geometry = g
		result = append(result, c)
	}
	return result, nil
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.MultiLineString:
		return len(g) == 0
	case orb.Ring:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0
	case orb.MultiPolygon:
		return len(g) == 0
	case orb.Collection:
		return len(g) == 0
	}
	return false
}

package provider

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
)

// Projecting presents another provider's features in a different crs.
// Queries are converted to the source crs and results back to the
// target crs.
type Projecting struct {
	source     Provider
	projection Projection
	crs        string
}

// NewProjecting wraps source. A nil projection means SphericalMercator.
func NewProjecting(source Provider, projection Projection) *Projecting {
	if projection == nil {
		projection = SphericalMercator{}
	}
	return &Projecting{source: source, projection: projection}
}

func (p *Projecting) CRS() string       { return p.crs }
func (p *Projecting) SetCRS(crs string) { p.crs = crs }

func (p *Projecting) Source() Provider { return p.source }

func (p *Projecting) Extent() (orb.Bound, bool) {
	b, ok := p.source.Extent()
	if !ok {
		return b, false
	}
	projected, err := p.projection.ProjectBound(p.source.CRS(), p.crs, b)
	if err != nil {
		return orb.Bound{}, false
	}
	return projected, true
}

func (p *Projecting) GetFeatures(ctx context.Context, fi fetch.FetchInfo) ([]*feature.Feature, error) {
	if err := fi.Validate(); err != nil {
		return nil, err
	}

	from := p.source.CRS()
	if !IsProjectionNeeded(from, p.crs) {
		return p.source.GetFeatures(ctx, fi)
	}

	extent, err := p.projection.ProjectBound(p.crs, from, fi.Extent)
	if err != nil {
		return nil, err
	}

	// Keep the same number of pixels across the projected extent.
	res := fi.Resolution
	if w := extent.Max.X() - extent.Min.X(); w > 0 && fi.Width() > 0 {
		res = fi.Resolution * w / fi.Width()
	}

	query := fi.WithExtent(extent, res)
	query.CRS = from

	features, err := p.source.GetFeatures(ctx, query)
	if err != nil {
		return nil, err
	}

	result := make([]*feature.Feature, 0, len(features))
	for _, f := range features {
		g, err := p.projection.Project(from, p.crs, f.Geometry)
		if err != nil {
			return nil, err
		}
		projected := *f
		projected.Geometry = g
		result = append(result, &projected)
	}
	return result, nil
}

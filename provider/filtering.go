package provider

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
)

// Filtering passes on the features of another provider that satisfy a
// predicate.
type Filtering struct {
	source Provider
	keep   func(*feature.Feature) bool
}

func NewFiltering(source Provider, keep func(*feature.Feature) bool) *Filtering {
	return &Filtering{source: source, keep: keep}
}

func (p *Filtering) CRS() string       { return p.source.CRS() }
func (p *Filtering) SetCRS(crs string) { p.source.SetCRS(crs) }

func (p *Filtering) Extent() (orb.Bound, bool) {
	return p.source.Extent()
}

func (p *Filtering) GetFeatures(ctx context.Context, fi fetch.FetchInfo) ([]*feature.Feature, error) {
	features, err := p.source.GetFeatures(ctx, fi)
	if err != nil {
		return nil, err
	}

	result := features[:0:0]
	for _, f := range features {
		if p.keep(f) {
			result = append(result, f)
		}
	}
	return result, nil
}

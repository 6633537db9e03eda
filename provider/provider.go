// Package provider contains the data sources layers fetch features from,
// and wrappers that transform or filter another provider's output.
package provider

import (
	"context"
	"errors"

	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
)

var (
	ErrNoExtent              = errors.New("provider: source has no extent")
	ErrUnsupportedProjection = errors.New("provider: unsupported projection")
)

// Provider is a source of features.
type Provider interface {
	// GetFeatures returns the features inside fi.Extent. It must not block
	// indefinitely for interactive use.
	GetFeatures(ctx context.Context, fi fetch.FetchInfo) ([]*feature.Feature, error)
	// Extent returns the bounding box of all features. The second return
	// is false when the provider is empty.
	Extent() (orb.Bound, bool)
	CRS() string
	SetCRS(crs string)
}

// DataChangedProvider is implemented by providers that can tell when their
// data changed.
type DataChangedProvider interface {
	Provider
	OnDataChanged(fn func(fetch.Result)) (unsubscribe func())
	DataHasChanged()
}

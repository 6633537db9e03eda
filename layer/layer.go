package layer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
	"github.com/tilezen/go-tilefetch/provider"
)

// Layer queries its provider every time features are requested.
type Layer struct {
	Base

	logger *slog.Logger

	mu          sync.Mutex
	source      provider.Provider
	unsubscribe func()
}

func New(name string, opts ...Option) *Layer {
	o := buildOptions(opts)
	l := &Layer{logger: o.logger}
	l.setup(name, o.style)
	return l
}

func (l *Layer) DataSource() provider.Provider {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

// SetDataSource replaces the provider and forwards its data-changed
// notifications, if it has any.
func (l *Layer) SetDataSource(p provider.Provider) {
	l.mu.Lock()
	if l.source == p {
		l.mu.Unlock()
		return
	}
	l.unsubscribe = swapSubscription(l.unsubscribe, p, l.DataHasChanged)
	l.source = p
	l.mu.Unlock()

	l.propertyChanged.Notify("DataSource")
	l.propertyChanged.Notify("Extent")
}

// Extent returns the extent of the provider.
func (l *Layer) Extent() (orb.Bound, bool) {
	src := l.DataSource()
	if src == nil {
		return orb.Bound{}, false
	}
	return src.Extent()
}

// GetFeatures queries the provider directly. Provider errors are logged
// and yield no features.
func (l *Layer) GetFeatures(extent orb.Bound, resolution float64) []*feature.Feature {
	src := l.DataSource()
	if src == nil {
		return nil
	}

	fi, err := fetch.NewFetchInfo(extent, resolution, src.CRS(), fetch.Discrete)
	if err != nil {
		l.logger.Warn("invalid feature query", "layer", l.Name(), "error", err)
		return nil
	}

	features, err := src.GetFeatures(context.Background(), fi)
	if err != nil {
		l.logger.Warn("failed to get features", "layer", l.Name(), "error", err)
		return nil
	}
	return features
}

func swapSubscription(old func(), p provider.Provider, changed func()) func() {
	if old != nil {
		old()
	}
	if dc, ok := p.(provider.DataChangedProvider); ok {
		return dc.OnDataChanged(func(fetch.Result) { changed() })
	}
	return nil
}

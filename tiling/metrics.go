package tiling

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts tile source activity. A nil *Metrics records nothing.
type Metrics struct {
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	cacheErrors   prometheus.Counter
	renders       prometheus.Counter
	renderErrors  prometheus.Counter
	renderSeconds prometheus.Histogram
}

// NewMetrics registers the tile source collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tilefetch",
			Name:      "tile_cache_hits_total",
			Help:      "Tiles served from the persistent cache.",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tilefetch",
			Name:      "tile_cache_misses_total",
			Help:      "Tiles not found in the persistent cache.",
		}),
		cacheErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tilefetch",
			Name:      "tile_cache_errors_total",
			Help:      "Persistent cache reads and writes that failed.",
		}),
		renders: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tilefetch",
			Name:      "tile_renders_total",
			Help:      "Tiles rendered.",
		}),
		renderErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tilefetch",
			Name:      "tile_render_errors_total",
			Help:      "Tile renders that failed.",
		}),
		renderSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tilefetch",
			Name:      "tile_render_duration_seconds",
			Help:      "Time spent fetching features and rendering a tile.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) cacheError() {
	if m != nil {
		m.cacheErrors.Inc()
	}
}

func (m *Metrics) rendered(start time.Time, err error) {
	if m == nil {
		return
	}
	m.renders.Inc()
	if err != nil {
		m.renderErrors.Inc()
	}
	m.renderSeconds.Observe(time.Since(start).Seconds())
}

// Package layer holds the layers a map is made of: a synchronous
// provider-backed Layer, an AsyncLayer that fetches in the background and
// caches the result, and the transient RenderLayer used for tiles.
package layer

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tilezen/go-tilefetch/fetch"
	"github.com/tilezen/go-tilefetch/internal/logutil"
	"github.com/tilezen/go-tilefetch/provider"
	"github.com/tilezen/go-tilefetch/style"
)

// DataSourceLayer is implemented by layers backed by a provider.
type DataSourceLayer interface {
	DataSource() provider.Provider
}

// Option configures a Layer or an AsyncLayer.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	fetchDelay time.Duration
	style      style.Style
}

// WithLogger sets the logger. Layers log nothing by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithFetchDelay sets how long an AsyncLayer waits for the viewport to
// settle before fetching.
func WithFetchDelay(d time.Duration) Option {
	return func(o *options) {
		o.fetchDelay = d
	}
}

func WithStyle(s style.Style) Option {
	return func(o *options) {
		o.style = s
	}
}

// DefaultFetchDelay is the AsyncLayer fetch delay when none is given.
const DefaultFetchDelay = 500 * time.Millisecond

func buildOptions(opts []Option) options {
	o := options{fetchDelay: DefaultFetchDelay}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logutil.OrDiscard(o.logger)
	return o
}

// Base carries the properties every layer has.
type Base struct {
	mu         sync.RWMutex
	name       string
	enabled    bool
	minVisible float64
	maxVisible float64
	opacity    float64
	style      style.Style

	dataChanged     fetch.Notifier[fetch.Result]
	propertyChanged fetch.Notifier[string]
}

func (b *Base) setup(name string, s style.Style) {
	b.name = name
	b.enabled = true
	b.maxVisible = math.MaxFloat64
	b.opacity = 1
	b.style = s
}

func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Base) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
	b.propertyChanged.Notify("Name")
}

func (b *Base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *Base) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
	b.propertyChanged.Notify("Enabled")
}

func (b *Base) MinVisible() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.minVisible
}

func (b *Base) SetMinVisible(res float64) {
	b.mu.Lock()
	b.minVisible = res
	b.mu.Unlock()
	b.propertyChanged.Notify("MinVisible")
}

func (b *Base) MaxVisible() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxVisible
}

func (b *Base) SetMaxVisible(res float64) {
	b.mu.Lock()
	b.maxVisible = res
	b.mu.Unlock()
	b.propertyChanged.Notify("MaxVisible")
}

func (b *Base) Opacity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opacity
}

func (b *Base) SetOpacity(opacity float64) {
	b.mu.Lock()
	b.opacity = opacity
	b.mu.Unlock()
	b.propertyChanged.Notify("Opacity")
}

func (b *Base) Style() style.Style {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.style
}

func (b *Base) SetStyle(s style.Style) {
	b.mu.Lock()
	b.style = s
	b.mu.Unlock()
	b.propertyChanged.Notify("Style")
}

// VisibleAt reports whether the layer is enabled and resolution lies
// within [MinVisible, MaxVisible].
func (b *Base) VisibleAt(resolution float64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled && resolution >= b.minVisible && resolution <= b.maxVisible
}

// OnDataChanged subscribes to the layer's data-changed results.
func (b *Base) OnDataChanged(fn func(fetch.Result)) (unsubscribe func()) {
	return b.dataChanged.Subscribe(fn)
}

// OnPropertyChanged subscribes to property changes. fn receives the
// property name.
func (b *Base) OnPropertyChanged(fn func(string)) (unsubscribe func()) {
	return b.propertyChanged.Subscribe(fn)
}

// DataHasChanged tells subscribers the layer should be redrawn.
func (b *Base) DataHasChanged() {
	b.dataChanged.Notify(fetch.Result{Kind: fetch.Success, LayerName: b.Name()})
}

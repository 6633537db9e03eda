package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/internal/logutil"
)

// Source is what a Dispatcher fetches from. provider.Provider satisfies it.
type Source interface {
	GetFeatures(ctx context.Context, fi FetchInfo) ([]*feature.Feature, error)
}

// Dispatcher keeps the latest requested viewport of one layer and turns it
// into at most one running fetch.
//
// Every change that makes an in-flight fetch obsolete (a new viewport, a new
// source, an abort) advances the epoch. A fetch records the epoch it started
// in; if the epoch moved on by the time it completes, its features are
// dropped and subscribers get a Cancelled result instead.
type Dispatcher struct {
	mu        sync.Mutex
	cache     *Cache
	source    Source
	pending   FetchInfo
	hasView   bool
	modified  bool
	inFlight  bool
	busy      bool
	epoch     uint64
	layerName string
	logger    *slog.Logger

	dataChanged Notifier[Result]
	busyChanged Notifier[bool]
}

// NewDispatcher creates a dispatcher writing completed fetches into cache.
func NewDispatcher(cache *Cache, layerName string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cache:     cache,
		layerName: layerName,
		logger:    logutil.OrDiscard(logger),
	}
}

// SetViewport records fi as the request to serve next. A request that has
// not started yet is overwritten.
func (d *Dispatcher) SetViewport(fi FetchInfo) {
	d.mu.Lock()
	d.pending = fi
	d.hasView = true
	d.modified = true
	d.epoch++
	changed, busy := d.updateBusyLocked()
	d.mu.Unlock()

	if changed {
		d.busyChanged.Notify(busy)
	}
}

// SetDataSource replaces the source. The current viewport, if any, becomes
// due again but no fetch is started.
func (d *Dispatcher) SetDataSource(s Source) {
	d.mu.Lock()
	d.source = s
	if d.hasView {
		d.modified = true
	}
	d.epoch++
	changed, busy := d.updateBusyLocked()
	d.mu.Unlock()

	if changed {
		d.busyChanged.Notify(busy)
	}
}

func (d *Dispatcher) DataSource() Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.source
}

// Abort marks the running fetch, if any, as superseded. Its result will be
// discarded when it arrives. The pending viewport is kept but no longer
// due; the next SetViewport or SetDataSource makes it due again.
func (d *Dispatcher) Abort() {
	d.mu.Lock()
	d.epoch++
	d.modified = false
	changed, busy := d.updateBusyLocked()
	d.mu.Unlock()

	if changed {
		d.busyChanged.Notify(busy)
	}
}

// Busy reports whether a fetch is running or waiting to start.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// OnDataChanged subscribes to fetch results.
func (d *Dispatcher) OnDataChanged(fn func(Result)) (unsubscribe func()) {
	return d.dataChanged.Subscribe(fn)
}

// OnBusyChanged subscribes to Busy transitions.
func (d *Dispatcher) OnBusyChanged(fn func(bool)) (unsubscribe func()) {
	return d.busyChanged.Subscribe(fn)
}

// RunNext runs the pending fetch if there is one and nothing else is in
// flight. It reports whether a fetch was run.
func (d *Dispatcher) RunNext(ctx context.Context) bool {
	d.mu.Lock()
	if d.inFlight || !d.modified || !d.hasView || d.source == nil {
		d.mu.Unlock()
		return false
	}
	fi := d.pending
	src := d.source
	epoch := d.epoch
	d.modified = false
	d.inFlight = true
	changed, busy := d.updateBusyLocked()
	d.mu.Unlock()

	if changed {
		d.busyChanged.Notify(busy)
	}

	start := time.Now()
	d.logger.Debug("fetch started", "layer", d.layerName, "extent", fi.Extent, "resolution", fi.Resolution)

	features, err := safeGetFeatures(ctx, src, fi)

	d.mu.Lock()
	stale := epoch != d.epoch
	if !stale && err == nil {
		d.cache.Replace(features)
	}
	d.inFlight = false
	changed, busy = d.updateBusyLocked()
	d.mu.Unlock()

	result := Result{LayerName: d.layerName}
	switch {
	case stale:
		result.Kind = Cancelled
		d.logger.Debug("fetch superseded", "layer", d.layerName, "elapsed", time.Since(start))
	case err != nil:
		result.Kind = Failure
		result.Err = err
		d.logger.Warn("fetch failed", "layer", d.layerName, "error", err)
	default:
		result.Kind = Success
		result.Features = features
		d.logger.Debug("fetch finished", "layer", d.layerName, "features", len(features), "elapsed", time.Since(start))
	}

	d.dataChanged.Notify(result)
	if changed {
		d.busyChanged.Notify(busy)
	}
	return true
}

func (d *Dispatcher) updateBusyLocked() (changed bool, busy bool) {
	busy = d.inFlight || (d.modified && d.hasView && d.source != nil)
	if busy == d.busy {
		return false, busy
	}
	d.busy = busy
	return true, busy
}

// safeGetFeatures turns a panicking source into an error.
func safeGetFeatures(ctx context.Context, src Source, fi FetchInfo) (features []*feature.Feature, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch: source panicked: %v", r)
		}
	}()
	return src.GetFeatures(ctx, fi)
}

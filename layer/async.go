package layer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
	"github.com/tilezen/go-tilefetch/provider"
)

// AsyncLayer fetches features in the background and serves them from a
// cache. Viewport changes are debounced and at most one fetch runs at a
// time; the newest viewport always wins.
type AsyncLayer struct {
	Base

	logger     *slog.Logger
	cache      *fetch.Cache
	dispatcher *fetch.Dispatcher
	machine    *fetch.Machine
	delayer    *fetch.Delayer

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	source      provider.Provider
	unsubscribe func()
}

func NewAsync(name string, opts ...Option) *AsyncLayer {
	o := buildOptions(opts)

	l := &AsyncLayer{
		logger:  o.logger,
		cache:   &fetch.Cache{},
		delayer: fetch.NewDelayer(o.fetchDelay),
	}
	l.setup(name, o.style)
	l.ctx, l.cancel = context.WithCancel(context.Background())

	l.dispatcher = fetch.NewDispatcher(l.cache, name, o.logger)
	l.dispatcher.OnDataChanged(func(r fetch.Result) {
		r.LayerName = l.Name()
		l.dataChanged.Notify(r)
	})
	l.dispatcher.OnBusyChanged(func(bool) {
		l.propertyChanged.Notify("Busy")
	})
	l.machine = fetch.NewMachine(l.dispatcher)

	return l
}

func (l *AsyncLayer) DataSource() provider.Provider {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

// SetDataSource swaps the provider. The cache is cleared but no fetch is
// started until the next RefreshData.
func (l *AsyncLayer) SetDataSource(p provider.Provider) {
	l.mu.Lock()
	if l.source == p {
		l.mu.Unlock()
		return
	}
	l.unsubscribe = swapSubscription(l.unsubscribe, p, l.DataHasChanged)
	l.source = p
	l.mu.Unlock()

	l.dispatcher.SetDataSource(p)
	l.ClearCache()

	l.propertyChanged.Notify("DataSource")
	l.propertyChanged.Notify("Extent")
}

func (l *AsyncLayer) Extent() (orb.Bound, bool) {
	src := l.DataSource()
	if src == nil {
		return orb.Bound{}, false
	}
	return src.Extent()
}

// FetchDelay returns how long RefreshData waits before fetching.
func (l *AsyncLayer) FetchDelay() time.Duration {
	return l.delayer.Wait()
}

func (l *AsyncLayer) SetFetchDelay(d time.Duration) {
	l.delayer.SetWait(d)
}

// RefreshData asks for the features in fi. Nothing happens when the layer
// is disabled, has no data source, is not visible at fi.Resolution, or fi
// comes from a viewport still being dragged.
func (l *AsyncLayer) RefreshData(fi fetch.FetchInfo) {
	if !l.VisibleAt(fi.Resolution) {
		return
	}
	if l.DataSource() == nil {
		return
	}
	if fi.ChangeType == fetch.Continuous {
		return
	}

	l.delayer.ExecuteDelayed(func() {
		if l.ctx.Err() != nil {
			return
		}
		l.dispatcher.SetViewport(fi)
		l.machine.Start(l.ctx)
	})
}

// GetFeatures returns the features of the last completed fetch. The
// arguments are ignored.
func (l *AsyncLayer) GetFeatures(orb.Bound, float64) []*feature.Feature {
	return l.cache.Snapshot()
}

// AbortFetch stops starting new fetches. A running fetch finishes but its
// result is discarded, and a viewport still waiting to be fetched is
// dropped until the next RefreshData.
func (l *AsyncLayer) AbortFetch() {
	l.machine.Stop()
	l.dispatcher.Abort()
}

// ClearCache empties the cached features. A running fetch is not
// cancelled.
func (l *AsyncLayer) ClearCache() {
	l.cache.Clear()
}

// Busy reports whether a fetch is running or due.
func (l *AsyncLayer) Busy() bool {
	return l.dispatcher.Busy()
}

func (l *AsyncLayer) OnBusyChanged(fn func(bool)) (unsubscribe func()) {
	return l.dispatcher.OnBusyChanged(fn)
}

// Close stops fetching for good and detaches from the data source.
func (l *AsyncLayer) Close() error {
	l.cancel()
	l.AbortFetch()

	l.mu.Lock()
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
	l.mu.Unlock()

	l.logger.Debug("layer closed", "layer", l.Name())
	return nil
}

package provider

import (
	"context"
	"reflect"
	"sync"

	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
)

// DefaultSymbolSize is the pixel size used to grow queries so that symbols
// partially outside the queried extent are still returned.
const DefaultSymbolSize = 64.0

// Memory keeps its features in a slice.
type Memory struct {
	mu         sync.RWMutex
	features   []*feature.Feature
	extent     orb.Bound
	hasExtent  bool
	crs        string
	symbolSize float64

	changed fetch.Notifier[fetch.Result]
}

// NewMemory creates a provider holding features.
func NewMemory(features ...*feature.Feature) *Memory {
	m := &Memory{
		features:   append([]*feature.Feature(nil), features...),
		symbolSize: DefaultSymbolSize,
	}
	m.extent, m.hasExtent = feature.Extent(m.features)
	return m
}

func (m *Memory) CRS() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.crs
}

func (m *Memory) SetCRS(crs string) {
	m.mu.Lock()
	m.crs = crs
	m.mu.Unlock()
}

func (m *Memory) SymbolSize() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.symbolSize
}

func (m *Memory) SetSymbolSize(size float64) {
	m.mu.Lock()
	m.symbolSize = size
	m.mu.Unlock()
}

// GetFeatures returns the features whose extent intersects fi.Extent grown
// by half a symbol.
func (m *Memory) GetFeatures(_ context.Context, fi fetch.FetchInfo) ([]*feature.Feature, error) {
	if err := fi.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	box := fi.Extent.Pad(fi.Resolution * m.symbolSize * 0.5)

	var result []*feature.Feature
	for _, f := range m.features {
		b, ok := f.Extent()
		if !ok || !b.Intersects(box) {
			continue
		}
		result = append(result, f)
	}
	return result, nil
}

func (m *Memory) Extent() (orb.Bound, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.extent, m.hasExtent
}

// Features returns a copy of the held features.
func (m *Memory) Features() []*feature.Feature {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*feature.Feature(nil), m.features...)
}

// Find returns the first feature whose property key equals value.
func (m *Memory) Find(key string, value interface{}) *feature.Feature {
	if value == nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.features {
		if v, ok := f.Properties[key]; ok && reflect.DeepEqual(v, value) {
			return f
		}
	}
	return nil
}

func (m *Memory) Add(f *feature.Feature) {
	m.AddAll(f)
}

func (m *Memory) AddAll(fs ...*feature.Feature) {
	m.mu.Lock()
	m.features = append(m.features, fs...)
	m.extent, m.hasExtent = feature.Extent(m.features)
	m.mu.Unlock()

	m.DataHasChanged()
}

// Remove deletes f and reports whether it was present.
func (m *Memory) Remove(f *feature.Feature) bool {
	return m.RemoveAll(f) > 0
}

// RemoveAll deletes fs and returns how many were removed.
func (m *Memory) RemoveAll(fs ...*feature.Feature) int {
	drop := make(map[*feature.Feature]struct{}, len(fs))
	for _, f := range fs {
		drop[f] = struct{}{}
	}

	m.mu.Lock()
	kept := m.features[:0:0]
	for _, f := range m.features {
		if _, ok := drop[f]; ok {
			continue
		}
		kept = append(kept, f)
	}
	removed := len(m.features) - len(kept)
	m.features = kept
	m.extent, m.hasExtent = feature.Extent(m.features)
	m.mu.Unlock()

	if removed > 0 {
		m.DataHasChanged()
	}
	return removed
}

func (m *Memory) Clear() {
	m.mu.Lock()
	m.features = nil
	m.extent, m.hasExtent = orb.Bound{}, false
	m.mu.Unlock()

	m.DataHasChanged()
}

func (m *Memory) OnDataChanged(fn func(fetch.Result)) (unsubscribe func()) {
	return m.changed.Subscribe(fn)
}

func (m *Memory) DataHasChanged() {
	m.changed.Notify(fetch.Result{Kind: fetch.Success})
}

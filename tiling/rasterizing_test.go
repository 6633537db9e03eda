package tiling

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
	"github.com/tilezen/go-tilefetch/layer"
	"github.com/tilezen/go-tilefetch/provider"
	"github.com/tilezen/go-tilefetch/render"
	"github.com/tilezen/go-tilefetch/style"
)

type testStyle struct {
	style.Visibility
}

// fakeSizer reports a fixed size, or the "size" property of each feature.
type fakeSizer struct {
	size       float64
	perFeature bool
}

func (fakeSizer) Draw(*gg.Context, render.Viewport, style.Style, *feature.Feature) error { return nil }
func (s fakeSizer) NeedsFeature(style.Style) bool                                      { return s.perFeature }
func (s fakeSizer) FeatureSize(_ style.Style, f *feature.Feature) float64 {
	if f == nil {
		return s.size
	}
	return f.Properties.MustFloat64("size", 0)
}

// rendererState is shared by every fakeRenderer a pool creates.
type rendererState struct {
	sizer   fakeSizer
	data    []byte
	err     error
	gate    chan struct{}
	hit     bool
	created atomic.Int32
	renders atomic.Int32

	mu       sync.Mutex
	rendered [][]*feature.Feature
}

func (s *rendererState) newRenderer() render.Renderer {
	s.created.Add(1)
	return &fakeRenderer{state: s}
}

func (s *rendererState) lastRendered() []*feature.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rendered) == 0 {
		return nil
	}
	return s.rendered[len(s.rendered)-1]
}

type fakeRenderer struct {
	state *rendererState
}

func (r *fakeRenderer) RenderToBitmap(vp render.Viewport, layers []render.Layer, _ float64, _ render.Format) ([]byte, error) {
	if r.state.gate != nil {
		<-r.state.gate
	}
	r.state.renders.Add(1)

	var fs []*feature.Feature
	for _, l := range layers {
		fs = append(fs, l.GetFeatures(vp.Extent(), vp.Resolution)...)
	}
	r.state.mu.Lock()
	r.state.rendered = append(r.state.rendered, fs)
	r.state.mu.Unlock()

	return r.state.data, r.state.err
}

func (r *fakeRenderer) GetMapInfo(pos render.ScreenPosition, vp render.Viewport, layers []render.Layer) render.MapInfo {
	info := render.MapInfo{ScreenPosition: pos, WorldPosition: vp.ScreenToWorld(pos), Resolution: vp.Resolution}
	if !r.state.hit {
		return info
	}
	for _, l := range layers {
		for _, f := range l.GetFeatures(vp.Extent(), vp.Resolution) {
			info.Records = append(info.Records, render.MapInfoRecord{Layer: l, Feature: f})
		}
	}
	return info
}

func (r *fakeRenderer) StyleRenderer(style.Style) (render.StyleRenderer, bool) {
	return r.state.sizer, true
}

// testLayer records the extents it is queried with.
type testLayer struct {
	name     string
	style    style.Style
	features []*feature.Feature

	mu      sync.Mutex
	queries []orb.Bound
}

func (l *testLayer) Name() string       { return l.name }
func (l *testLayer) Style() style.Style { return l.style }
func (l *testLayer) GetFeatures(extent orb.Bound, _ float64) []*feature.Feature {
	l.mu.Lock()
	l.queries = append(l.queries, extent)
	l.mu.Unlock()

	var result []*feature.Feature
	for _, f := range l.features {
		if b, ok := f.Extent(); ok && extent.Intersects(b) {
			result = append(result, f)
		}
	}
	return result
}

func (l *testLayer) lastQuery() orb.Bound {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queries[len(l.queries)-1]
}

func boundsApprox(a, b orb.Bound) bool {
	return approx(a.Min.X(), b.Min.X()) && approx(a.Min.Y(), b.Min.Y()) &&
		approx(a.Max.X(), b.Max.X()) && approx(a.Max.Y(), b.Max.Y())
}

func TestGetTileImageIsTileSize(t *testing.T) {
	tests := []struct {
		name    string
		tile    maptile.Tile
		density float64
		want    int
	}{
		{"root", maptile.New(0, 0, 0), 1, 256},
		{"z3 corner", maptile.New(0, 0, 3), 1, 256},
		{"z7", maptile.New(37, 91, 7), 1, 256},
		{"z12 high density", maptile.New(2100, 1300, 12), 2, 512},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := NewRasterizingTileSource(&testLayer{name: "empty", style: &testStyle{}}, WithPixelDensity(tc.density))
			data, err := src.GetTile(context.Background(), src.Schema().TileInfo(tc.tile))
			if err != nil {
				t.Fatal(err)
			}
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatal(err)
			}
			if b := img.Bounds(); b.Dx() != tc.want || b.Dy() != tc.want {
				t.Errorf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), tc.want, tc.want)
			}
		})
	}
}

func TestGetTileRendersOnce(t *testing.T) {
	state := &rendererState{data: []byte("tile")}
	cache, _ := NewMemoryCache(16)
	src := NewRasterizingTileSource(&testLayer{name: "points", style: &testStyle{}},
		WithRenderer(state.newRenderer), WithPersistentCache(cache))

	ti := src.Schema().TileInfo(maptile.New(1, 0, 1))
	for i := 0; i < 3; i++ {
		data, err := src.GetTile(context.Background(), ti)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "tile" {
			t.Fatalf("GetTile = %q", data)
		}
	}
	if n := state.renders.Load(); n != 1 {
		t.Errorf("rendered %d times, want 1", n)
	}
}

func TestGetTileCachesEmptyResult(t *testing.T) {
	state := &rendererState{}
	cache, _ := NewMemoryCache(16)
	src := NewRasterizingTileSource(&testLayer{name: "points", style: &testStyle{}},
		WithRenderer(state.newRenderer), WithPersistentCache(cache))

	ti := src.Schema().TileInfo(maptile.New(0, 0, 0))
	for i := 0; i < 2; i++ {
		data, err := src.GetTile(context.Background(), ti)
		if err != nil || data != nil {
			t.Fatalf("GetTile = %v, %v; want nil, nil", data, err)
		}
	}

	stored, found, _ := cache.Find(context.Background(), ti.Tile)
	if !found || stored == nil || len(stored) != 0 {
		t.Errorf("expected empty bytes in the cache, got %v %v", stored, found)
	}
	if n := state.renders.Load(); n != 1 {
		t.Errorf("rendered %d times, want 1", n)
	}
}

func TestGetTileConcurrentMissesShareRender(t *testing.T) {
	state := &rendererState{data: []byte("tile"), gate: make(chan struct{})}
	cache, _ := NewMemoryCache(16)
	src := NewRasterizingTileSource(&testLayer{name: "points", style: &testStyle{}},
		WithRenderer(state.newRenderer), WithPersistentCache(cache))

	ti := src.Schema().TileInfo(maptile.New(2, 1, 2))
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := src.GetTile(context.Background(), ti); err != nil {
				errs <- err
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(state.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatal(err)
	}
	if n := state.renders.Load(); n != 1 {
		t.Errorf("rendered %d times, want 1", n)
	}
}

// blockingProvider waits for gate and then reports the state of ctx.
type blockingProvider struct {
	entered chan struct{}
	gate    chan struct{}
}

func (p *blockingProvider) GetFeatures(ctx context.Context, _ fetch.FetchInfo) ([]*feature.Feature, error) {
	p.entered <- struct{}{}
	<-p.gate
	return nil, ctx.Err()
}

func (p *blockingProvider) Extent() (orb.Bound, bool) { return orb.Bound{}, false }
func (p *blockingProvider) CRS() string               { return "EPSG:3857" }
func (p *blockingProvider) SetCRS(string)             {}

func TestGetTileSurvivesFirstCallerCancel(t *testing.T) {
	state := &rendererState{data: []byte("tile")}
	p := &blockingProvider{entered: make(chan struct{}, 4), gate: make(chan struct{})}
	l := layer.New("blocking", layer.WithStyle(&testStyle{}))
	l.SetDataSource(p)
	src := NewRasterizingTileSource(l, WithRenderer(state.newRenderer))
	ti := src.Schema().TileInfo(maptile.New(0, 0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := src.GetTile(ctx, ti)
		firstErr <- err
	}()
	<-p.entered

	type result struct {
		data []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		data, err := src.GetTile(context.Background(), ti)
		second <- result{data, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(p.gate)

	r := <-second
	if r.err != nil {
		t.Fatalf("waiting caller failed: %v", r.err)
	}
	if string(r.data) != "tile" {
		t.Errorf("data = %q, want tile", r.data)
	}
	if err := <-firstErr; err != nil {
		t.Errorf("first caller failed: %v", err)
	}
	if n := state.renders.Load(); n != 1 {
		t.Errorf("renders = %d, want 1", n)
	}
}

func TestGetTileRenderError(t *testing.T) {
	boom := errors.New("boom")
	state := &rendererState{err: boom}
	cache, _ := NewMemoryCache(16)
	src := NewRasterizingTileSource(&testLayer{name: "points", style: &testStyle{}},
		WithRenderer(state.newRenderer), WithPersistentCache(cache))

	ti := src.Schema().TileInfo(maptile.New(0, 0, 0))
	if _, err := src.GetTile(context.Background(), ti); !errors.Is(err, boom) {
		t.Fatalf("expected render error, got %v", err)
	}
	if cache.Len() != 0 {
		t.Error("a failed render must not be cached")
	}
}

func TestGetTileOutsideSchema(t *testing.T) {
	src := NewRasterizingTileSource(&testLayer{name: "points"})
	_, err := src.GetTile(context.Background(), TileInfo{Tile: maptile.New(4, 0, 1)})
	if !errors.Is(err, ErrTileOutsideSchema) {
		t.Errorf("expected ErrTileOutsideSchema, got %v", err)
	}
}

func TestGetTileGrowsQueryByStyleSize(t *testing.T) {
	state := &rendererState{data: []byte("tile"), sizer: fakeSizer{size: 20}}
	l := &testLayer{name: "points", style: &testStyle{}}
	src := NewRasterizingTileSource(l, WithRenderer(state.newRenderer))

	tile := maptile.New(1, 0, 1)
	ti := src.Schema().TileInfo(tile)
	if _, err := src.GetTile(context.Background(), ti); err != nil {
		t.Fatal(err)
	}

	// Half of 20 pixels, clamped on the edges that touch the schema extent.
	growth := 10 * src.Schema().Resolution(1)
	want := orb.Bound{
		Min: orb.Point{-growth, -growth},
		Max: orb.Point{MercatorExtent, MercatorExtent},
	}
	if got := l.lastQuery(); !boundsApprox(got, want) {
		t.Errorf("query extent = %v, want %v", got, want)
	}
}

func TestGetTileFetchesSymbolsFromNeighbours(t *testing.T) {
	state := &rendererState{data: []byte("tile"), sizer: fakeSizer{perFeature: true}}

	// The marker sits just left of tile 1/1/0 and is 40 pixels wide.
	marker := feature.NewPoint(-1000, 1000)
	marker.Properties["size"] = 40.0
	l := &testLayer{name: "points", style: &testStyle{}, features: []*feature.Feature{marker}}
	src := NewRasterizingTileSource(l, WithRenderer(state.newRenderer))

	ti := src.Schema().TileInfo(maptile.New(1, 0, 1))
	if _, err := src.GetTile(context.Background(), ti); err != nil {
		t.Fatal(err)
	}

	rendered := state.lastRendered()
	if len(rendered) != 1 || rendered[0] != marker {
		t.Fatalf("expected the neighbouring marker to be rendered, got %v", rendered)
	}

	growth := 20 * src.Schema().Resolution(1)
	if got := l.lastQuery(); !approx(got.Min.X(), -growth) {
		t.Errorf("query min x = %v, want %v", got.Min.X(), -growth)
	}
}

func TestSearchSizesAreMemoized(t *testing.T) {
	state := &rendererState{data: []byte("tile"), sizer: fakeSizer{perFeature: true}}
	l := &testLayer{name: "points", style: &testStyle{}}
	src := NewRasterizingTileSource(l, WithRenderer(state.newRenderer))

	ti := src.Schema().TileInfo(maptile.New(0, 0, 0))
	src.GetTile(context.Background(), ti)
	first := len(l.queries)

	src.ClearSearchSizes()
	src.GetTile(context.Background(), ti)
	if len(l.queries) != 2*first {
		t.Fatalf("expected search sizes to be recomputed after clearing, got %d queries", len(l.queries))
	}

	// Feature info reuses the memoized size, so only the final query runs.
	vp := render.ViewportForExtent(ti.Extent, src.Schema().Resolution(0))
	src.GetFeatureInfo(context.Background(), vp, render.ScreenPosition{X: 128, Y: 128})
	if len(l.queries) != 2*first+1 {
		t.Errorf("expected one extra query, got %d", len(l.queries)-2*first)
	}
}

func TestGetTileProjectsDataSource(t *testing.T) {
	state := &rendererState{data: []byte("tile")}

	mem := provider.NewMemory(feature.NewPoint(10, 10))
	mem.SetCRS(provider.EPSG4326)
	mem.SetSymbolSize(0)
	l := layer.New("geo", layer.WithStyle(&testStyle{}))
	l.SetDataSource(mem)

	src := NewRasterizingTileSource(l, WithRenderer(state.newRenderer))
	ti := src.Schema().TileInfo(maptile.New(1, 0, 1))
	if _, err := src.GetTile(context.Background(), ti); err != nil {
		t.Fatal(err)
	}

	rendered := state.lastRendered()
	if len(rendered) != 1 {
		t.Fatalf("rendered %d features, want 1", len(rendered))
	}
	p := rendered[0].Geometry.(orb.Point)
	if math.Abs(p.X()-1113194.9079327357) > 1 {
		t.Errorf("expected mercator coordinates, got %v", p)
	}
}

type fakeRemote struct {
	calls atomic.Int32
	f     *feature.Feature
}

func (r *fakeRemote) GetRemoteMapInfo(_ context.Context, pos render.ScreenPosition, vp render.Viewport, layers []render.Layer) (render.MapInfo, error) {
	r.calls.Add(1)
	return render.MapInfo{
		ScreenPosition: pos,
		Records:        []render.MapInfoRecord{{Layer: layers[0], Feature: r.f}},
	}, nil
}

func TestGetFeatureInfo(t *testing.T) {
	a := feature.NewPoint(1000, 1000)
	b := feature.NewPoint(2000, 2000)
	l := &testLayer{name: "points", style: &testStyle{}, features: []*feature.Feature{a, b}}
	schema := GlobalSphericalMercator()
	ti := schema.TileInfo(maptile.New(1, 0, 1))
	vp := render.ViewportForExtent(ti.Extent, schema.Resolution(1))
	pos := render.ScreenPosition{X: 10, Y: 250}

	t.Run("local hit", func(t *testing.T) {
		state := &rendererState{hit: true}
		remote := &fakeRemote{}
		src := NewRasterizingTileSource(l, WithRenderer(state.newRenderer), WithRemoteFetcher(remote))

		got, err := src.GetFeatureInfo(context.Background(), vp, pos)
		if err != nil {
			t.Fatal(err)
		}
		if len(got["points"]) != 2 {
			t.Errorf("expected two features under points, got %v", got)
		}
		if remote.calls.Load() != 0 {
			t.Error("remote fetcher must not be asked after a local hit")
		}
	})

	t.Run("remote fallback", func(t *testing.T) {
		state := &rendererState{}
		remote := &fakeRemote{f: b}
		src := NewRasterizingTileSource(l, WithRenderer(state.newRenderer), WithRemoteFetcher(remote))

		got, err := src.GetFeatureInfo(context.Background(), vp, pos)
		if err != nil {
			t.Fatal(err)
		}
		if len(got["points"]) != 1 || got["points"][0] != b {
			t.Errorf("expected the remote feature, got %v", got)
		}
	})

	t.Run("huge viewport", func(t *testing.T) {
		state := &rendererState{hit: true}
		ql := &testLayer{name: "points", style: &testStyle{}, features: []*feature.Feature{a}}
		src := NewRasterizingTileSource(ql, WithRenderer(state.newRenderer))

		huge := render.Viewport{CenterX: 1000, CenterY: 1000, Resolution: 1, Width: 2e9, Height: 2e9}
		got, err := src.GetFeatureInfo(context.Background(), huge, render.ScreenPosition{X: 1e9, Y: 1e9})
		if err != nil {
			t.Fatal(err)
		}
		if len(got["points"]) != 1 || got["points"][0] != a {
			t.Errorf("expected the feature under the click, got %v", got)
		}
		q := ql.lastQuery()
		if !q.Contains(orb.Point{1000, 1000}) || q.Max.X()-q.Min.X() > 1000 {
			t.Errorf("query %v should cover only the tile under the click", q)
		}
	})

	t.Run("outside the schema", func(t *testing.T) {
		state := &rendererState{hit: true}
		src := NewRasterizingTileSource(l, WithRenderer(state.newRenderer))

		far := vp
		far.CenterX += 3 * MercatorExtent
		got, err := src.GetFeatureInfo(context.Background(), far, pos)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("expected no features, got %v", got)
		}
	})
}

func TestMetrics(t *testing.T) {
	state := &rendererState{data: []byte("tile")}
	m := NewMetrics(prometheus.NewRegistry())
	cache, _ := NewMemoryCache(16)
	src := NewRasterizingTileSource(&testLayer{name: "points", style: &testStyle{}},
		WithRenderer(state.newRenderer), WithPersistentCache(cache), WithMetrics(m))

	ti := src.Schema().TileInfo(maptile.New(0, 0, 0))
	src.GetTile(context.Background(), ti)
	src.GetTile(context.Background(), ti)

	if got := testutil.ToFloat64(m.cacheHits); got != 1 {
		t.Errorf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cacheMisses); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.renders); got != 1 {
		t.Errorf("renders = %v, want 1", got)
	}
}

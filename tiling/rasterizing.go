package tiling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
	"github.com/tilezen/go-tilefetch/internal/logutil"
	"github.com/tilezen/go-tilefetch/layer"
	"github.com/tilezen/go-tilefetch/provider"
	"github.com/tilezen/go-tilefetch/render"
	"github.com/tilezen/go-tilefetch/style"
	"golang.org/x/sync/singleflight"
)

var ErrTileOutsideSchema = errors.New("tiling: tile is outside the schema")

// Layer is what a RasterizingTileSource draws. Layers that also implement
// layer.DataSourceLayer are queried through their provider.
type Layer interface {
	Name() string
	Style() style.Style
	GetFeatures(extent orb.Bound, resolution float64) []*feature.Feature
}

// Option configures a RasterizingTileSource.
type Option func(*RasterizingTileSource)

// WithRenderer sets how renderers are created when the pool is empty.
func WithRenderer(newRenderer func() render.Renderer) Option {
	return func(s *RasterizingTileSource) {
		s.newRenderer = newRenderer
	}
}

func WithBitmapRegistry(r *render.BitmapRegistry) Option {
	return func(s *RasterizingTileSource) {
		s.registry = r
	}
}

func WithPixelDensity(d float64) Option {
	return func(s *RasterizingTileSource) {
		s.pixelDensity = d
	}
}

func WithFormat(f render.Format) Option {
	return func(s *RasterizingTileSource) {
		s.format = f
	}
}

func WithPersistentCache(c PersistentCache) Option {
	return func(s *RasterizingTileSource) {
		s.cache = c
	}
}

// WithProjection sets the projection used when the layer's provider is
// not in the schema CRS.
func WithProjection(p provider.Projection) Option {
	return func(s *RasterizingTileSource) {
		s.projection = p
	}
}

// WithRemoteFetcher sets the lookup used by GetFeatureInfo when nothing is
// hit locally.
func WithRemoteFetcher(f render.RemoteMapInfoFetcher) Option {
	return func(s *RasterizingTileSource) {
		s.remote = f
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *RasterizingTileSource) {
		s.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *RasterizingTileSource) {
		s.logger = l
	}
}

func WithSchema(schema Schema) Option {
	return func(s *RasterizingTileSource) {
		s.schema = schema
	}
}

// RasterizingTileSource renders a layer into raster tiles. Feature queries
// are grown by the size of the symbols drawn near the tile so that symbols
// crossing a tile edge are drawn on both tiles.
type RasterizingTileSource struct {
	layer        Layer
	dataSource   provider.Provider
	schema       Schema
	pixelDensity float64
	format       render.Format
	cache        PersistentCache
	projection   provider.Projection
	remote       render.RemoteMapInfoFetcher
	metrics      *Metrics
	logger       *slog.Logger
	registry     *render.BitmapRegistry
	newRenderer  func() render.Renderer

	pool  *render.Pool
	group singleflight.Group

	mu          sync.Mutex
	searchSizes map[maptile.Tile]float64
}

func NewRasterizingTileSource(l Layer, opts ...Option) *RasterizingTileSource {
	s := &RasterizingTileSource{
		layer:        l,
		schema:       GlobalSphericalMercator(),
		pixelDensity: 1,
		format:       render.PNG,
		searchSizes:  map[maptile.Tile]float64{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = logutil.OrDiscard(s.logger)
	if s.cache == nil {
		s.cache = NullCache{}
	}
	if s.newRenderer == nil {
		registry, logger := s.registry, s.logger
		s.newRenderer = func() render.Renderer {
			return render.NewGGRenderer(registry, logger)
		}
	}
	s.pool = render.NewPool(s.newRenderer)

	if dl, ok := l.(layer.DataSourceLayer); ok && dl.DataSource() != nil {
		s.dataSource = dl.DataSource()
		if provider.IsProjectionNeeded(s.dataSource.CRS(), s.schema.CRS) {
			p := provider.NewProjecting(s.dataSource, s.projection)
			p.SetCRS(s.schema.CRS)
			s.dataSource = p
		}
	}

	return s
}

func (s *RasterizingTileSource) Name() string {
	return s.layer.Name()
}

func (s *RasterizingTileSource) Schema() Schema {
	return s.schema
}

func (s *RasterizingTileSource) Format() render.Format {
	return s.format
}

func (s *RasterizingTileSource) PersistentCache() PersistentCache {
	return s.cache
}

// GetTile returns the encoded tile, rendering and caching it on a miss.
// A nil result with a nil error means the tile is empty. Concurrent
// requests for the same tile share one render.
func (s *RasterizingTileSource) GetTile(ctx context.Context, ti TileInfo) ([]byte, error) {
	if !s.schema.Contains(ti.Tile) {
		return nil, fmt.Errorf("%w: %v", ErrTileOutsideSchema, ti.Tile)
	}

	if data, ok := s.find(ctx, ti.Tile); ok {
		s.metrics.cacheHit()
		return nonEmpty(data), nil
	}
	s.metrics.cacheMiss()

	key := fmt.Sprintf("%d/%d/%d", ti.Tile.Z, ti.Tile.X, ti.Tile.Y)
	// A shared render is not cancelled with the caller that started it.
	ctx = context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		// Another caller may have finished this tile since the lookup above.
		if data, ok := s.find(ctx, ti.Tile); ok {
			return data, nil
		}

		data, err := s.render(ctx, ti)
		if err != nil {
			return nil, err
		}

		stored := data
		if stored == nil {
			stored = []byte{}
		}
		if err := s.cache.Add(ctx, ti.Tile, stored); err != nil {
			s.metrics.cacheError()
			s.logger.Warn("Couldn't store tile", "tile", ti.Tile, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return nonEmpty(v.([]byte)), nil
}

func (s *RasterizingTileSource) find(ctx context.Context, tile maptile.Tile) ([]byte, bool) {
	data, found, err := s.cache.Find(ctx, tile)
	if err != nil {
		s.metrics.cacheError()
		s.logger.Warn("Couldn't read tile from cache", "tile", tile, "error", err)
	}
	return data, found
}

func nonEmpty(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return data
}

func (s *RasterizingTileSource) render(ctx context.Context, ti TileInfo) (data []byte, err error) {
	start := time.Now()
	defer func() {
		s.metrics.rendered(start, err)
		s.logger.Debug("Rendered tile", "tile", ti.Tile, "bytes", len(data), "duration", time.Since(start), "error", err)
	}()

	r, release := s.pool.Acquire()
	defer release()

	rl, vp, err := s.createRenderLayer(ctx, ti, r)
	if err != nil {
		return nil, err
	}

	return r.RenderToBitmap(vp, []render.Layer{rl}, s.pixelDensity, s.format)
}

// createRenderLayer fetches the features drawn on ti and returns them as a
// layer together with the tile viewport.
func (s *RasterizingTileSource) createRenderLayer(ctx context.Context, ti TileInfo, r render.Renderer) (*layer.RenderLayer, render.Viewport, error) {
	res := s.schema.Resolution(ti.Tile.Z)
	vp := s.tileViewport(ti)

	growth, err := s.searchGrowth(ctx, ti, r, res)
	if err != nil {
		return nil, vp, err
	}

	extent := ti.Extent
	if growth > 0 {
		extent = clampBound(extent.Pad(growth), s.schema.Extent)
	}

	features, err := s.getFeatures(ctx, extent, res)
	if err != nil {
		return nil, vp, err
	}
	return layer.NewRenderLayer(s.layer, features), vp, nil
}

// tileViewport returns the viewport drawing ti at exactly TileSize pixels.
// Dividing the extent by the resolution is not exact for every tile.
func (s *RasterizingTileSource) tileViewport(ti TileInfo) render.Viewport {
	c := ti.Extent.Center()
	size := float64(s.schema.TileSize)
	return render.Viewport{
		CenterX:    c.X(),
		CenterY:    c.Y(),
		Resolution: s.schema.Resolution(ti.Tile.Z),
		Width:      size,
		Height:     size,
	}
}

// searchGrowth returns how far, in schema units, the feature query for ti
// must reach beyond the tile: the largest search size over ti and its
// eight neighbours.
func (s *RasterizingTileSource) searchGrowth(ctx context.Context, ti TileInfo, r render.Renderer, res float64) (float64, error) {
	growth := 0.0
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			n, ok := s.schema.Neighbour(ti.Tile, dx, dy)
			if !ok {
				continue
			}
			size, err := s.searchSize(ctx, s.schema.TileInfo(n), r, res)
			if err != nil {
				return 0, err
			}
			growth = math.Max(growth, size)
		}
	}
	return growth, nil
}

// searchSize returns half the largest symbol size drawn on ti, in schema
// units. Results are memoized per tile.
func (s *RasterizingTileSource) searchSize(ctx context.Context, ti TileInfo, r render.Renderer, res float64) (float64, error) {
	s.mu.Lock()
	size, ok := s.searchSizes[ti.Tile]
	s.mu.Unlock()
	if ok {
		return size, nil
	}

	var (
		pixels   float64
		features []*feature.Feature
		fetched  bool
	)
	for _, st := range style.StylesToApply(s.layer.Style(), res) {
		sr, ok := r.StyleRenderer(st)
		if !ok {
			continue
		}
		sizer, ok := sr.(render.FeatureSizer)
		if !ok {
			continue
		}

		if !sizer.NeedsFeature(st) {
			pixels = math.Max(pixels, sizer.FeatureSize(st, nil))
			continue
		}

		if !fetched {
			var err error
			features, err = s.getFeatures(ctx, ti.Extent, res)
			if err != nil {
				return 0, err
			}
			fetched = true
		}
		for _, f := range features {
			pixels = math.Max(pixels, sizer.FeatureSize(st, f))
		}
	}

	size = pixels * res * 0.5

	s.mu.Lock()
	s.searchSizes[ti.Tile] = size
	s.mu.Unlock()
	return size, nil
}

func (s *RasterizingTileSource) getFeatures(ctx context.Context, extent orb.Bound, res float64) ([]*feature.Feature, error) {
	if s.dataSource == nil {
		return s.layer.GetFeatures(extent, res), nil
	}

	fi, err := fetch.NewFetchInfo(extent, res, s.schema.CRS, fetch.Discrete)
	if err != nil {
		return nil, err
	}
	return s.dataSource.GetFeatures(ctx, fi)
}

// ClearSearchSizes forgets the memoized search sizes, for example after
// the layer style changed.
func (s *RasterizingTileSource) ClearSearchSizes() {
	s.mu.Lock()
	s.searchSizes = map[maptile.Tile]float64{}
	s.mu.Unlock()
}

// GetFeatureInfo returns the features under pos grouped by layer name.
// When the renderer hits nothing locally the remote fetcher, if any, is
// asked instead.
func (s *RasterizingTileSource) GetFeatureInfo(ctx context.Context, vp render.Viewport, pos render.ScreenPosition) (map[string][]*feature.Feature, error) {
	result := map[string][]*feature.Feature{}

	ti, ok, err := s.schema.TileAt(vp.ScreenToWorld(pos), vp.Resolution)
	if err != nil {
		return nil, err
	}
	if !ok {
		return result, nil
	}

	r, release := s.pool.Acquire()
	defer release()

	rl, _, err := s.createRenderLayer(ctx, ti, r)
	if err != nil {
		return nil, err
	}
	layers := []render.Layer{rl}

	info := r.GetMapInfo(pos, vp, layers)
	if info.Feature() == nil && s.remote != nil {
		info, err = s.remote.GetRemoteMapInfo(ctx, pos, vp, layers)
		if err != nil {
			return nil, err
		}
	}

	for _, rec := range info.Records {
		name := rec.Layer.Name()
		result[name] = append(result[name], rec.Feature)
	}
	return result, nil
}

// Package app builds the tile source described by a config.Config. It is
// shared by the commands.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tilezen/go-tilefetch/config"
	"github.com/tilezen/go-tilefetch/layer"
	"github.com/tilezen/go-tilefetch/provider"
	"github.com/tilezen/go-tilefetch/render"
	"github.com/tilezen/go-tilefetch/tiling"
)

const featureInfoTimeout = 10 * time.Second

// OpenCache returns the persistent cache configured by c. The second
// return closes it.
func OpenCache(c config.CacheConfig, layerName string, format render.Format) (tiling.PersistentCache, func() error, error) {
	var (
		cache tiling.PersistentCache
		err   error
	)

	switch c.Kind {
	case "", "none", "memory":
		cache = tiling.NullCache{}
	case "disk":
		cache, err = tiling.NewDiskCache(c.Path, format.Extension())
	case "bolt":
		cache, err = tiling.NewBoltCache(c.Path)
	case "mbtiles":
		cache, err = tiling.NewMbtilesCache(c.Path)
	case "s3":
		cache, err = tiling.NewS3Cache(tiling.S3Options{
			Bucket:        c.Bucket,
			PathTemplate:  c.PathTemplate,
			LayerName:     layerName,
			Extension:     format.Extension(),
			ContentType:   format.ContentType(),
			RequesterPays: c.RequesterPays,
		})
	default:
		err = fmt.Errorf("unknown cache kind %q", c.Kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't open %s cache: %w", c.Kind, err)
	}

	if c.MemoryEntries > 0 {
		mem, err := tiling.NewMemoryCache(c.MemoryEntries)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := cache.(tiling.NullCache); ok {
			cache = mem
		} else {
			cache = tiling.ChainCache{mem, cache}
		}
	}

	closeFn := func() error {
		if closer, ok := cache.(interface{ Close() error }); ok {
			return closer.Close()
		}
		return nil
	}
	return cache, closeFn, nil
}

// Source is a tile source together with what it was built from.
type Source struct {
	*tiling.RasterizingTileSource
	Layer    *layer.Layer
	Provider *provider.Memory
	Cache    tiling.PersistentCache

	closeCache func() error
}

// Close flushes and closes the cache.
func (s *Source) Close() error {
	return s.closeCache()
}

// Open loads the configured GeoJSON layer and builds a tile source for it.
func Open(cfg *config.Config, logger *slog.Logger, metrics *tiling.Metrics) (*Source, error) {
	if cfg.Layer.Source == "" {
		return nil, errors.New("layer source is required")
	}

	format, err := render.ParseFormat(cfg.Render.Format)
	if err != nil {
		return nil, err
	}
	st, err := cfg.Style.Build()
	if err != nil {
		return nil, err
	}

	mem, err := provider.LoadGeoJSON(cfg.Layer.Source, cfg.Layer.CRS)
	if err != nil {
		return nil, fmt.Errorf("couldn't load %s: %w", cfg.Layer.Source, err)
	}

	l := layer.New(cfg.Layer.Name, layer.WithStyle(st), layer.WithLogger(logger))
	l.SetMinVisible(cfg.Layer.MinVisible)
	if cfg.Layer.MaxVisible > 0 {
		l.SetMaxVisible(cfg.Layer.MaxVisible)
	}
	l.SetDataSource(mem)

	cache, closeCache, err := OpenCache(cfg.Cache, cfg.Layer.Name, format)
	if err != nil {
		return nil, err
	}

	registry := render.NewBitmapRegistry()
	quality := cfg.Render.JPEGQuality
	opts := []tiling.Option{
		tiling.WithRenderer(func() render.Renderer {
			r := render.NewGGRenderer(registry, logger)
			if quality > 0 {
				r.SetJPEGQuality(quality)
			}
			return r
		}),
		tiling.WithBitmapRegistry(registry),
		tiling.WithPixelDensity(cfg.Render.PixelDensity),
		tiling.WithFormat(format),
		tiling.WithPersistentCache(cache),
		tiling.WithMetrics(metrics),
		tiling.WithLogger(logger),
	}
	if cfg.Render.FeatureInfoURL != "" {
		opts = append(opts, tiling.WithRemoteFetcher(render.NewHTTPMapInfoFetcher(cfg.Render.FeatureInfoURL, featureInfoTimeout, logger)))
	}

	return &Source{
		RasterizingTileSource: tiling.NewRasterizingTileSource(l, opts...),
		Layer:                 l,
		Provider:              mem,
		Cache:                 cache,
		closeCache:            closeCache,
	}, nil
}

package main

import (
	"errors"
	"flag"
	"log"
	"math"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/tilezen/go-tilefetch/tiling"
)

// ensureMetadata derives bounds and zooms from the tiles in the mbtiles
// cache at path and writes them, together with name and format, to its
// metadata table. Existing name and format values are kept.
func ensureMetadata(path string, name string, format string) (*tiling.MbtilesMetadata, error) {
	cache, err := tiling.NewMbtilesCache(path)
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	var bounds *orb.Bound
	minZoom := maptile.Zoom(math.MaxUint8)
	maxZoom := maptile.Zoom(0)

	err = cache.VisitAllTiles(func(t maptile.Tile, data []byte) {
		tb := t.Bound()
		if bounds == nil {
			bounds = &tb
		} else {
			tb = bounds.Union(tb)
			bounds = &tb
		}

		minZoom = min(minZoom, t.Z)
		maxZoom = max(maxZoom, t.Z)
	})
	if err != nil {
		return nil, err
	}
	if bounds == nil {
		return nil, errNoTiles
	}

	existing, err := cache.Metadata()
	if err != nil {
		return nil, err
	}
	if v := existing.Name(); v != "" {
		name = v
	}
	if v := existing.Format(); v != "" {
		format = v
	}

	metadata := tiling.NewRasterMetadata(name, format, *bounds, minZoom, maxZoom)
	for _, k := range existing.Keys() {
		if _, ok := metadata.Get(k); !ok {
			v, _ := existing.Get(k)
			metadata.Set(k, v)
		}
	}

	if err := cache.WriteMetadata(metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

var errNoTiles = errors.New("mbtiles has no tiles")

func main() {
	format := flag.String("format", "png", "Tile format to record when the metadata has none.")
	flag.Parse()

	for _, path := range flag.Args() {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		metadata, err := ensureMetadata(path, name, *format)
		if err != nil {
			log.Fatalf("Failed to assign metadata to %s: %+v", path, err)
		}

		bounds, _ := metadata.Bounds()
		minZoom, _ := metadata.MinZoom()
		maxZoom, _ := metadata.MaxZoom()
		log.Println(path, bounds, minZoom, maxZoom)
	}
}

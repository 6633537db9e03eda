package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/schollz/progressbar/v3"
	"github.com/tilezen/go-tilefetch/config"
	"github.com/tilezen/go-tilefetch/internal/app"
	"github.com/tilezen/go-tilefetch/tiling"
	"golang.org/x/sync/errgroup"
)

var zoomRangeRegex = regexp.MustCompile(`^\d+\-\d+$`)

// parseBounds parses a south,west,north,east box.
func parseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bounding box string must be a comma-separated list of 4 numbers")
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bounding box string could not be parsed as numbers")
		}
		vals[i] = v
	}

	return orb.Bound{
		Min: orb.Point{vals[1], vals[0]},
		Max: orb.Point{vals[3], vals[2]},
	}, nil
}

// parseZooms accepts a comma-separated list or a min-max range.
func parseZooms(s string) ([]maptile.Zoom, error) {
	var zooms []maptile.Zoom

	if zoomRangeRegex.MatchString(s) {
		zoomRange := strings.Split(s, "-")

		minZoom, err := strconv.ParseUint(zoomRange[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to parse min zoom (%s): %w", zoomRange[0], err)
		}

		maxZoom, err := strconv.ParseUint(zoomRange[1], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("failed to parse max zoom (%s): %w", zoomRange[1], err)
		}

		if minZoom > maxZoom {
			return nil, fmt.Errorf("invalid zoom range %s", s)
		}

		for z := minZoom; z <= maxZoom; z++ {
			zooms = append(zooms, maptile.Zoom(z))
		}
		return zooms, nil
	}

	for _, zoomStr := range strings.Split(s, ",") {
		z, err := strconv.ParseUint(strings.TrimSpace(zoomStr), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("zoom list could not be parsed: %w", err)
		}
		zooms = append(zooms, maptile.Zoom(z))
	}
	return zooms, nil
}

func calculateExpectedTiles(b orb.Bound, zs []maptile.Zoom) uint32 {
	return uint32(tiling.CountTiles(b, zs))
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file.")
	input := flag.String("input", "", "GeoJSON file to rasterize. Overrides layer.source.")
	crs := flag.String("crs", "", "CRS of the input. Overrides layer.crs.")
	outputMode := flag.String("output-mode", "", "Cache to render into: disk, bolt, mbtiles or s3. Overrides cache.kind.")
	outputDSN := flag.String("dsn", "", "Path to the output directory or database. Overrides cache.path.")
	format := flag.String("format", "", "Tile format, png or jpg. Overrides render.format.")
	boundingBoxStr := flag.String("bounds", "-90.0,-180.0,90.0,180.0", "Comma-separated bounding box in south,west,north,east format. Defaults to the whole world.")
	zoomsStr := flag.String("zooms", "0,1,2,3,4,5,6,7,8,9,10", "Comma-separated list of zoom levels or a '{MIN_ZOOM}-{MAX_ZOOM}' range string.")
	numWorkers := flag.Int("workers", 8, "Number of tile render workers to use.")
	cpuProfile := flag.String("cpuprofile", "", "Enables CPU profiling. Saves the dump to the given path.")
	verbose := flag.Bool("verbose", false, "Log every rendered tile.")
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Couldn't load config: %+v", err)
	}
	if *input != "" {
		cfg.Layer.Source = *input
	}
	if *crs != "" {
		cfg.Layer.CRS = *crs
	}
	if *outputMode != "" {
		cfg.Cache.Kind = *outputMode
	}
	if *outputDSN != "" {
		cfg.Cache.Path = *outputDSN
	}
	if *format != "" {
		cfg.Render.Format = *format
	}
	// Every tile is rendered once, so an in-memory cache only costs memory.
	cfg.Cache.MemoryEntries = 0
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %+v", err)
	}
	switch cfg.Cache.Kind {
	case "", "none", "memory":
		log.Fatalf("Output mode (-output-mode) must be disk, bolt, mbtiles or s3")
	}

	bounds, err := parseBounds(*boundingBoxStr)
	if err != nil {
		log.Fatal(err)
	}
	zooms, err := parseZooms(*zoomsStr)
	if err != nil {
		log.Fatal(err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	src, err := app.Open(cfg, logger, nil)
	if err != nil {
		log.Fatalf("Couldn't create tile source: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	expected := calculateExpectedTiles(bounds, zooms)
	logger.Info("Rendering tiles", "tiles", expected, "cache", cfg.Cache.Kind, "workers", *numWorkers)

	bar := progressbar.Default(int64(expected), "rendering")
	start := time.Now()

	var empty atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*numWorkers)

	tiling.GenerateTiles(&tiling.GenerateTilesOptions{
		Bounds: bounds,
		Zooms:  zooms,
		ConsumerFunc: func(tile maptile.Tile) {
			if gctx.Err() != nil {
				return
			}
			ti := src.Schema().TileInfo(tile)
			g.Go(func() error {
				data, err := src.GetTile(gctx, ti)
				if err != nil {
					return fmt.Errorf("couldn't render %v: %w", tile, err)
				}
				if data == nil {
					empty.Add(1)
				}
				return bar.Add(1)
			})
		},
	})

	renderErr := g.Wait()
	bar.Finish()

	if mbtiles, ok := src.Cache.(*tiling.MbtilesCache); ok && renderErr == nil {
		minZoom, maxZoom := zooms[0], zooms[0]
		for _, z := range zooms {
			minZoom, maxZoom = min(minZoom, z), max(maxZoom, z)
		}
		metadata := tiling.NewRasterMetadata(cfg.Layer.Name, src.Format().Extension(), bounds, minZoom, maxZoom)
		if err := mbtiles.WriteMetadata(metadata); err != nil {
			log.Printf("Couldn't write metadata: %+v", err)
		}
	}

	if err := src.Close(); err != nil {
		log.Printf("Error closing cache: %+v", err)
	}

	if renderErr != nil {
		log.Fatalf("Rendering failed: %+v", renderErr)
	}

	duration := time.Since(start)
	logger.Info("Finished rendering tiles",
		"tiles", expected,
		"empty", empty.Load(),
		"duration", duration,
		"tiles_per_second", fmt.Sprintf("%0.1f", float64(expected)/duration.Seconds()))
}

// Package http serves rasterized tiles and feature info over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gohttp "net/http"
	"regexp"
	"strconv"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/internal/logutil"
	"github.com/tilezen/go-tilefetch/render"
	"github.com/tilezen/go-tilefetch/tiling"
)

var (
	tileRegex = regexp.MustCompile(`\/tiles\/(\d+)\/(\d+)\/(\d+)\.(png|jpg|jpeg)$`)
)

// TileSource is the part of tiling.RasterizingTileSource the tile handler
// needs.
type TileSource interface {
	Schema() tiling.Schema
	Format() render.Format
	GetTile(ctx context.Context, ti tiling.TileInfo) ([]byte, error)
}

// FeatureInfoSource is the part of tiling.RasterizingTileSource the
// feature info handler needs.
type FeatureInfoSource interface {
	GetFeatureInfo(ctx context.Context, vp render.Viewport, pos render.ScreenPosition) (map[string][]*feature.Feature, error)
}

// TileHandler serves /tiles/{z}/{x}/{y}.{png|jpg}. Unknown paths, tiles
// outside the schema and empty tiles are 404s.
func TileHandler(source TileSource, logger *slog.Logger) gohttp.HandlerFunc {
	logger = logutil.OrDiscard(logger)

	return func(w gohttp.ResponseWriter, r *gohttp.Request) {
		requestedTile, format, err := parseTileFromPath(r.URL.Path)
		if err != nil || format != source.Format() {
			gohttp.NotFound(w, r)
			return
		}

		data, err := source.GetTile(r.Context(), source.Schema().TileInfo(requestedTile))
		if errors.Is(err, tiling.ErrTileOutsideSchema) {
			gohttp.NotFound(w, r)
			return
		}
		if err != nil {
			logger.Error("Error getting tile", "tile", requestedTile, "error", err)
			gohttp.Error(w, "error rendering tile", gohttp.StatusInternalServerError)
			return
		}

		if data == nil {
			gohttp.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

func parseTileFromPath(url string) (maptile.Tile, render.Format, error) {
	match := tileRegex.FindStringSubmatch(url)
	if match == nil {
		return maptile.Tile{}, render.PNG, fmt.Errorf("invalid tile path")
	}

	z, err := strconv.ParseUint(match[1], 10, 8)
	if err != nil {
		return maptile.Tile{}, render.PNG, err
	}
	x, err := strconv.ParseUint(match[2], 10, 32)
	if err != nil {
		return maptile.Tile{}, render.PNG, err
	}
	y, err := strconv.ParseUint(match[3], 10, 32)
	if err != nil {
		return maptile.Tile{}, render.PNG, err
	}

	format, err := render.ParseFormat(match[4])
	if err != nil {
		return maptile.Tile{}, render.PNG, err
	}

	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), format, nil
}

// FeatureInfoHandler answers
// /featureinfo?x=&y=&resolution=&width=&height=&px=&py= with a JSON object
// mapping layer names to GeoJSON feature collections. x and y are the
// viewport center in schema units, px and py the pixel that was clicked.
func FeatureInfoHandler(source FeatureInfoSource, logger *slog.Logger) gohttp.HandlerFunc {
	logger = logutil.OrDiscard(logger)

	return func(w gohttp.ResponseWriter, r *gohttp.Request) {
		vp, pos, err := parseFeatureInfoQuery(r)
		if err != nil {
			gohttp.Error(w, err.Error(), gohttp.StatusBadRequest)
			return
		}

		info, err := source.GetFeatureInfo(r.Context(), vp, pos)
		if err != nil {
			logger.Error("Error getting feature info", "viewport", vp, "position", pos, "error", err)
			gohttp.Error(w, "error getting feature info", gohttp.StatusInternalServerError)
			return
		}

		result := make(map[string]*geojson.FeatureCollection, len(info))
		for name, fs := range info {
			result[name] = feature.ToGeoJSON(fs)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Warn("Couldn't write feature info", "error", err)
		}
	}
}

func parseFeatureInfoQuery(r *gohttp.Request) (render.Viewport, render.ScreenPosition, error) {
	q := r.URL.Query()
	names := []string{"x", "y", "resolution", "width", "height", "px", "py"}
	vals := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			return render.Viewport{}, render.ScreenPosition{}, fmt.Errorf("invalid %s parameter", name)
		}
		vals[i] = v
	}

	vp := render.Viewport{
		CenterX:    vals[0],
		CenterY:    vals[1],
		Resolution: vals[2],
		Width:      vals[3],
		Height:     vals[4],
	}
	if !(vp.Resolution > 0) || !(vp.Width > 0) || !(vp.Height > 0) {
		return vp, render.ScreenPosition{}, errors.New("resolution, width and height must be positive")
	}
	return vp, render.ScreenPosition{X: vals[5], Y: vals[6]}, nil
}

// Package tiling renders layers into raster tiles on a global spherical
// mercator grid and keeps them in pluggable persistent caches.
package tiling

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

var ErrNoLevel = errors.New("tiling: no zoom level for resolution")

// MercatorExtent is half the circumference of the web mercator sphere.
const MercatorExtent = 20037508.342789244

// Schema is a square tile pyramid. Rows count down from the top edge, as
// in the XYZ scheme.
type Schema struct {
	CRS      string
	Extent   orb.Bound
	TileSize int
	MaxLevel maptile.Zoom
}

// GlobalSphericalMercator returns the EPSG:3857 schema with 256 pixel
// tiles.
func GlobalSphericalMercator() Schema {
	return Schema{
		CRS: "EPSG:3857",
		Extent: orb.Bound{
			Min: orb.Point{-MercatorExtent, -MercatorExtent},
			Max: orb.Point{MercatorExtent, MercatorExtent},
		},
		TileSize: 256,
		MaxLevel: 24,
	}
}

// TileInfo couples a tile index with its extent in schema units.
type TileInfo struct {
	Tile   maptile.Tile
	Extent orb.Bound
}

func (s Schema) span(z maptile.Zoom) float64 {
	return (s.Extent.Max.X() - s.Extent.Min.X()) / float64(uint64(1)<<z)
}

// Resolution returns the units per pixel at level z.
func (s Schema) Resolution(z maptile.Zoom) float64 {
	return s.span(z) / float64(s.TileSize)
}

// Contains reports whether t lies on the grid.
func (s Schema) Contains(t maptile.Tile) bool {
	if t.Z > s.MaxLevel {
		return false
	}
	n := uint64(1) << t.Z
	return uint64(t.X) < n && uint64(t.Y) < n
}

// TileExtent returns the extent covered by t.
func (s Schema) TileExtent(t maptile.Tile) orb.Bound {
	span := s.span(t.Z)
	minX := s.Extent.Min.X() + float64(t.X)*span
	maxY := s.Extent.Max.Y() - float64(t.Y)*span
	return orb.Bound{
		Min: orb.Point{minX, maxY - span},
		Max: orb.Point{minX + span, maxY},
	}
}

func (s Schema) TileInfo(t maptile.Tile) TileInfo {
	return TileInfo{Tile: t, Extent: s.TileExtent(t)}
}

// Neighbour returns the tile dx columns and dy rows away from t. The second
// return is false when that tile is off the grid.
func (s Schema) Neighbour(t maptile.Tile, dx, dy int) (maptile.Tile, bool) {
	x := int64(t.X) + int64(dx)
	y := int64(t.Y) + int64(dy)
	if x < 0 || y < 0 {
		return maptile.Tile{}, false
	}
	n := maptile.New(uint32(x), uint32(y), t.Z)
	return n, s.Contains(n)
}

// LevelForResolution returns the level whose resolution is closest to res.
func (s Schema) LevelForResolution(res float64) (maptile.Zoom, error) {
	if !(res > 0) {
		return 0, fmt.Errorf("%w: %v", ErrNoLevel, res)
	}

	best := maptile.Zoom(0)
	bestDiff := math.Inf(1)
	for z := maptile.Zoom(0); z <= s.MaxLevel; z++ {
		diff := math.Abs(math.Log(s.Resolution(z) / res))
		if diff < bestDiff {
			best, bestDiff = z, diff
		}
	}
	return best, nil
}

// TilesInExtent returns the tiles covering extent at the level closest to
// res.
func (s Schema) TilesInExtent(extent orb.Bound, res float64) ([]TileInfo, error) {
	z, err := s.LevelForResolution(res)
	if err != nil {
		return nil, err
	}

	span := s.span(z)
	last := float64(uint64(1)<<z) - 1

	clamp := func(v float64) uint32 {
		return uint32(math.Max(0, math.Min(last, v)))
	}

	minCol := clamp(math.Floor((extent.Min.X() - s.Extent.Min.X()) / span))
	maxCol := clamp(math.Ceil((extent.Max.X()-s.Extent.Min.X())/span) - 1)
	minRow := clamp(math.Floor((s.Extent.Max.Y() - extent.Max.Y()) / span))
	maxRow := clamp(math.Ceil((s.Extent.Max.Y()-extent.Min.Y())/span) - 1)

	var result []TileInfo
	for y := minRow; y <= maxRow; y++ {
		for x := minCol; x <= maxCol; x++ {
			result = append(result, s.TileInfo(maptile.New(x, y, z)))
		}
	}
	return result, nil
}

// TileAt returns the tile under p at the level closest to res. The second
// return is false when p is outside the schema extent. Points on the outer
// edge belong to the last row or column.
func (s Schema) TileAt(p orb.Point, res float64) (TileInfo, bool, error) {
	z, err := s.LevelForResolution(res)
	if err != nil {
		return TileInfo{}, false, err
	}
	if !s.Extent.Contains(p) {
		return TileInfo{}, false, nil
	}

	span := s.span(z)
	last := float64(uint64(1)<<z) - 1
	col := math.Min(last, math.Floor((p.X()-s.Extent.Min.X())/span))
	row := math.Min(last, math.Floor((s.Extent.Max.Y()-p.Y())/span))

	t := maptile.New(uint32(col), uint32(row), z)
	if !s.Contains(t) {
		return TileInfo{}, false, nil
	}
	return s.TileInfo(t), true, nil
}

// clampBound shrinks b so it does not reach outside limit.
func clampBound(b, limit orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Max(b.Min.X(), limit.Min.X()), math.Max(b.Min.Y(), limit.Min.Y())},
		Max: orb.Point{math.Min(b.Max.X(), limit.Max.X()), math.Min(b.Max.Y(), limit.Max.Y())},
	}
}

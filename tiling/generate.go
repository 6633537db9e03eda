package tiling

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const webMercatorLatLimit float64 = 85.05112877980659

type GenerateRangesConsumerFunc func(minTile maptile.Tile, maxTile maptile.Tile, z maptile.Zoom)

type GenerateRangesOptions struct {
	Bounds       orb.Bound
	Zooms        []maptile.Zoom
	ConsumerFunc GenerateRangesConsumerFunc
}

type GenerateTilesConsumerFunc func(tile maptile.Tile)

// GenerateTilesOptions selects the tiles covering a lon/lat bound. Bounds
// with Min.X greater than Max.X cross the antimeridian.
type GenerateTilesOptions struct {
	Bounds       orb.Bound
	Zooms        []maptile.Zoom
	ConsumerFunc GenerateTilesConsumerFunc
	InvertedY    bool
}

// GenerateTileRanges calls the consumer with the corner tiles of every
// box and zoom. Rows of minTile are never greater than rows of maxTile.
func GenerateTileRanges(opts *GenerateRangesOptions) {
	bounds := opts.Bounds

	var boxes []orb.Bound
	if bounds.Min.X() > bounds.Max.X() {
		boxes = []orb.Bound{
			{
				Min: orb.Point{-180.0, bounds.Min.Y()},
				Max: bounds.Max,
			},
			{
				Min: bounds.Min,
				Max: orb.Point{180.0, bounds.Max.Y()},
			},
		}
	} else {
		boxes = []orb.Bound{bounds}
	}

	for _, box := range boxes {
		// Clamp the individual boxes to web mercator limits
		clampedBox := orb.Bound{
			Min: orb.Point{
				math.Max(-180.0, box.Min.X()),
				math.Max(-webMercatorLatLimit, box.Min.Y()),
			},
			Max: orb.Point{
				math.Min(180.0-0.00000001, box.Max.X()),
				math.Min(webMercatorLatLimit, box.Max.Y()),
			},
		}

		for _, z := range opts.Zooms {
			minTile := maptile.At(clampedBox.Min, z)
			maxTile := maptile.At(clampedBox.Max, z)

			// Flip Y because the XYZ tiling scheme has an inverted Y compared to lat/lon
			maxTile.Y, minTile.Y = minTile.Y, maxTile.Y

			opts.ConsumerFunc(minTile, maxTile, z)
		}
	}
}

// GenerateTiles calls the consumer once per tile in the bound.
func GenerateTiles(opts *GenerateTilesOptions) {
	rangeOpts := &GenerateRangesOptions{
		Bounds: opts.Bounds,
		Zooms:  opts.Zooms,
	}

	rangeOpts.ConsumerFunc = func(minTile maptile.Tile, maxTile maptile.Tile, z maptile.Zoom) {
		for x := minTile.X; x <= maxTile.X; x++ {
			for y := minTile.Y; y <= maxTile.Y; y++ {
				tileY := y
				if opts.InvertedY {
					// https://gist.github.com/tmcw/4954720
					tileY = (uint32(1) << uint32(z)) - 1 - y
				}
				opts.ConsumerFunc(maptile.New(x, tileY, z))
			}
		}
	}

	GenerateTileRanges(rangeOpts)
}

// CountTiles returns how many tiles GenerateTiles would produce.
func CountTiles(bounds orb.Bound, zooms []maptile.Zoom) uint64 {
	var n uint64
	GenerateTileRanges(&GenerateRangesOptions{
		Bounds: bounds,
		Zooms:  zooms,
		ConsumerFunc: func(minTile, maxTile maptile.Tile, _ maptile.Zoom) {
			n += uint64(maxTile.X-minTile.X+1) * uint64(maxTile.Y-minTile.Y+1)
		},
	})
	return n
}

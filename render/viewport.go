package render

import (
	"math"

	"github.com/paulmach/orb"
)

// ScreenPosition is a point in pixels from the top-left corner.
type ScreenPosition struct {
	X, Y float64
}

// Viewport is the part of the world shown on screen. Resolution is in
// world units per pixel, Width and Height are in pixels.
type Viewport struct {
	CenterX    float64
	CenterY    float64
	Resolution float64
	Width      float64
	Height     float64
}

// ViewportForExtent returns the viewport showing extent at resolution.
func ViewportForExtent(extent orb.Bound, resolution float64) Viewport {
	c := extent.Center()
	return Viewport{
		CenterX:    c.X(),
		CenterY:    c.Y(),
		Resolution: resolution,
		Width:      (extent.Max.X() - extent.Min.X()) / resolution,
		Height:     (extent.Max.Y() - extent.Min.Y()) / resolution,
	}
}

func (v Viewport) ScreenToWorld(p ScreenPosition) orb.Point {
	return orb.Point{
		v.CenterX + (p.X-v.Width*0.5)*v.Resolution,
		v.CenterY - (p.Y-v.Height*0.5)*v.Resolution,
	}
}

func (v Viewport) WorldToScreen(p orb.Point) ScreenPosition {
	return ScreenPosition{
		X: (p.X()-v.CenterX)/v.Resolution + v.Width*0.5,
		Y: (v.CenterY-p.Y())/v.Resolution + v.Height*0.5,
	}
}

// Extent returns the world rectangle covered by the viewport.
func (v Viewport) Extent() orb.Bound {
	hw := v.Width * v.Resolution * 0.5
	hh := v.Height * v.Resolution * 0.5
	return orb.Bound{
		Min: orb.Point{v.CenterX - hw, v.CenterY - hh},
		Max: orb.Point{v.CenterX + hw, v.CenterY + hh},
	}
}

// PixelSize returns the canvas size for pixelDensity, rounded to the
// nearest pixel.
func (v Viewport) PixelSize(pixelDensity float64) (int, int) {
	return int(math.Round(v.Width * pixelDensity)), int(math.Round(v.Height * pixelDensity))
}

package feature

import "image/color"

// Symbol is the closed set of per-feature symbol kinds. Use a type switch
// on *Marker, *SymbolMark and *IconSymbol.
type Symbol interface {
	isSymbol()
}

// MarkerPinSize is the on-screen size in pixels of a marker at scale 1.
const MarkerPinSize = 36.0

// Marker is a pin with an optional callout.
type Marker struct {
	Title    string
	Subtitle string
	Color    color.RGBA
	Scale    float64
}

// Shape names the geometric form of a SymbolMark.
type Shape int

const (
	Ellipse Shape = iota
	Rectangle
	Triangle
)

// SymbolMark is a simple filled shape of a fixed pixel size.
type SymbolMark struct {
	Shape Shape
	Size  float64
	Fill  color.RGBA
}

// IconSymbol draws a bitmap held by a render.BitmapRegistry.
type IconSymbol struct {
	BitmapID int
	Scale    float64
}

func (*Marker) isSymbol()     {}
func (*SymbolMark) isSymbol() {}
func (*IconSymbol) isSymbol() {}

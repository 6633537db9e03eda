package render

import (
	"fmt"
	"image/color"
	"math"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/style"
)

// SymbolStyleRenderer draws style.SymbolStyle shapes on point geometries.
type SymbolStyleRenderer struct{}

func (SymbolStyleRenderer) Draw(dc *gg.Context, vp Viewport, s style.Style, f *feature.Feature) error {
	ss, ok := s.(*style.SymbolStyle)
	if !ok {
		return fmt.Errorf("symbol renderer cannot draw %T", s)
	}

	size := ss.SymbolSize(f) - 2*ss.OutlineWidth
	for _, p := range points(f.Geometry) {
		sp := vp.WorldToScreen(p)
		drawShape(dc, ss.Shape, sp.X, sp.Y, size)
		if err := fillAndOutline(dc, ss.Fill, ss.Outline, ss.OutlineWidth); err != nil {
			return err
		}
	}
	return nil
}

func (SymbolStyleRenderer) NeedsFeature(s style.Style) bool {
	ss, ok := s.(*style.SymbolStyle)
	return ok && ss.SizeFunc != nil
}

func (SymbolStyleRenderer) FeatureSize(s style.Style, f *feature.Feature) float64 {
	ss, ok := s.(*style.SymbolStyle)
	if !ok {
		return 0
	}
	return ss.SymbolSize(f)
}

// VectorStyleRenderer draws lines and polygons with style.VectorStyle.
type VectorStyleRenderer struct{}

func (VectorStyleRenderer) Draw(dc *gg.Context, vp Viewport, s style.Style, f *feature.Feature) error {
	vs, ok := s.(*style.VectorStyle)
	if !ok {
		return fmt.Errorf("vector renderer cannot draw %T", s)
	}
	return drawGeometry(dc, vp, vs, f.Geometry)
}

func (VectorStyleRenderer) NeedsFeature(style.Style) bool { return false }

func (VectorStyleRenderer) FeatureSize(s style.Style, _ *feature.Feature) float64 {
	vs, ok := s.(*style.VectorStyle)
	if !ok {
		return 0
	}
	return vs.LineWidth
}

func drawGeometry(dc *gg.Context, vp Viewport, vs *style.VectorStyle, g orb.Geometry) error {
	switch g := g.(type) {
	case orb.LineString:
		tracePath(dc, vp, g, false)
		return stroke(dc, vs.Line, vs.LineWidth)
	case orb.MultiLineString:
		for _, ls := range g {
			tracePath(dc, vp, ls, false)
		}
		return stroke(dc, vs.Line, vs.LineWidth)
	case orb.Ring:
		return drawPolygon(dc, vp, vs, orb.Polygon{g})
	case orb.Polygon:
		return drawPolygon(dc, vp, vs, g)
	case orb.MultiPolygon:
		for _, p := range g {
			if err := drawPolygon(dc, vp, vs, p); err != nil {
				return err
			}
		}
	case orb.Bound:
		return drawPolygon(dc, vp, vs, g.ToPolygon())
	case orb.Collection:
		for _, c := range g {
			if err := drawGeometry(dc, vp, vs, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func drawPolygon(dc *gg.Context, vp Viewport, vs *style.VectorStyle, p orb.Polygon) error {
	for _, r := range p {
		tracePath(dc, vp, orb.LineString(r), true)
	}
	dc.SetFillRule(gg.FillRuleEvenOdd)
	return fillAndOutline(dc, vs.Fill, vs.Line, vs.LineWidth)
}

func tracePath(dc *gg.Context, vp Viewport, ls orb.LineString, closed bool) {
	for i, p := range ls {
		sp := vp.WorldToScreen(p)
		if i == 0 {
			dc.MoveTo(sp.X, sp.Y)
			continue
		}
		dc.LineTo(sp.X, sp.Y)
	}
	if closed && len(ls) > 0 {
		dc.ClosePath()
	}
}

// FeatureSymbolRenderer draws the Symbol carried by each feature.
type FeatureSymbolRenderer struct {
	Registry *BitmapRegistry
}

func (r FeatureSymbolRenderer) Draw(dc *gg.Context, vp Viewport, _ style.Style, f *feature.Feature) error {
	if f.Symbol == nil {
		return nil
	}

	for _, p := range points(f.Geometry) {
		sp := vp.WorldToScreen(p)

		switch sym := f.Symbol.(type) {
		case *feature.Marker:
			if err := drawMarker(dc, sp, sym); err != nil {
				return err
			}
		case *feature.SymbolMark:
			drawShape(dc, sym.Shape, sp.X, sp.Y, symbolMarkSize(sym))
			if err := fillAndOutline(dc, sym.Fill, color.RGBA{}, 0); err != nil {
				return err
			}
		case *feature.IconSymbol:
			r.drawIcon(dc, sp, sym)
		}
	}
	return nil
}

func (FeatureSymbolRenderer) NeedsFeature(style.Style) bool { return true }

func (r FeatureSymbolRenderer) FeatureSize(_ style.Style, f *feature.Feature) float64 {
	if f == nil {
		return 0
	}
	switch sym := f.Symbol.(type) {
	case *feature.Marker:
		return feature.MarkerPinSize * scaleOrOne(sym.Scale)
	case *feature.SymbolMark:
		return symbolMarkSize(sym)
	case *feature.IconSymbol:
		img, ok := r.Registry.Get(sym.BitmapID)
		if !ok {
			return 0
		}
		b := img.Bounds()
		return math.Max(float64(b.Dx()), float64(b.Dy())) * scaleOrOne(sym.Scale)
	}
	return 0
}

func (r FeatureSymbolRenderer) drawIcon(dc *gg.Context, sp ScreenPosition, sym *feature.IconSymbol) {
	buf, ok := r.Registry.imageBuf(sym.BitmapID)
	if !ok {
		return
	}
	scale := scaleOrOne(sym.Scale)
	w := float64(buf.Width()) * scale
	h := float64(buf.Height()) * scale
	dc.DrawImageEx(buf, gg.DrawImageOptions{
		X:             sp.X - w*0.5,
		Y:             sp.Y - h*0.5,
		DstWidth:      w,
		DstHeight:     h,
		Interpolation: gg.InterpBilinear,
		Opacity:       1.0,
		BlendMode:     gg.BlendNormal,
	})
}

// drawMarker draws a pin whose tip sits on sp.
func drawMarker(dc *gg.Context, sp ScreenPosition, m *feature.Marker) error {
	size := feature.MarkerPinSize * scaleOrOne(m.Scale)
	r := size / 3
	cy := sp.Y - size + r

	fill := m.Color
	if fill == (color.RGBA{}) {
		fill = color.RGBA{R: 0xe0, G: 0x3c, B: 0x31, A: 0xff}
	}

	dc.DrawCircle(sp.X, cy, r)
	dc.MoveTo(sp.X-r*0.85, cy+r*0.5)
	dc.LineTo(sp.X, sp.Y)
	dc.LineTo(sp.X+r*0.85, cy+r*0.5)
	dc.ClosePath()
	dc.SetFillRule(gg.FillRuleNonZero)
	if err := fillAndOutline(dc, fill, color.RGBA{A: 0xff}, 1); err != nil {
		return err
	}

	dc.DrawCircle(sp.X, cy, r*0.4)
	dc.SetColor(color.White)
	return dc.Fill()
}

func drawShape(dc *gg.Context, shape feature.Shape, x, y, size float64) {
	half := size * 0.5
	switch shape {
	case feature.Rectangle:
		dc.DrawRectangle(x-half, y-half, size, size)
	case feature.Triangle:
		dc.DrawRegularPolygon(3, x, y, half, -math.Pi/2)
	default:
		dc.DrawCircle(x, y, half)
	}
}

func fillAndOutline(dc *gg.Context, fill, outline color.RGBA, width float64) error {
	dc.SetColor(fill)
	if err := dc.FillPreserve(); err != nil {
		return err
	}
	if width <= 0 || outline.A == 0 {
		dc.ClearPath()
		return nil
	}
	return stroke(dc, outline, width)
}

func stroke(dc *gg.Context, c color.RGBA, width float64) error {
	if width <= 0 || c.A == 0 {
		dc.ClearPath()
		return nil
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	return dc.Stroke()
}

func points(g orb.Geometry) []orb.Point {
	switch g := g.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.MultiPoint:
		return g
	case orb.Collection:
		var result []orb.Point
		for _, c := range g {
			result = append(result, points(c)...)
		}
		return result
	}
	return nil
}

func symbolMarkSize(s *feature.SymbolMark) float64 {
	if s.Size <= 0 {
		return style.DefaultSymbolSize
	}
	return s.Size
}

func scaleOrOne(s float64) float64 {
	if s <= 0 {
		return 1
	}
	return s
}

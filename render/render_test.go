package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/style"
)

type staticLayer struct {
	name     string
	style    style.Style
	features []*feature.Feature
}

func (l *staticLayer) Name() string       { return l.name }
func (l *staticLayer) Enabled() bool      { return true }
func (l *staticLayer) Style() style.Style { return l.style }
func (l *staticLayer) GetFeatures(orb.Bound, float64) []*feature.Feature {
	return l.features
}

var red = color.RGBA{R: 0xff, A: 0xff}

func TestPixelSizeRounds(t *testing.T) {
	vp := Viewport{Resolution: 1, Width: 256.00000000000006, Height: 255.99999999999997}
	if w, h := vp.PixelSize(1); w != 256 || h != 256 {
		t.Errorf("PixelSize(1) = %dx%d, want 256x256", w, h)
	}
	if w, h := vp.PixelSize(2); w != 512 || h != 512 {
		t.Errorf("PixelSize(2) = %dx%d, want 512x512", w, h)
	}
}

func TestViewportRoundTrip(t *testing.T) {
	vp := ViewportForExtent(orb.Bound{Min: orb.Point{100, 200}, Max: orb.Point{300, 300}}, 2)

	if vp.Width != 100 || vp.Height != 50 {
		t.Fatalf("unexpected size %vx%v", vp.Width, vp.Height)
	}

	tests := []struct {
		name   string
		screen ScreenPosition
		world  orb.Point
	}{
		{"top left", ScreenPosition{0, 0}, orb.Point{100, 300}},
		{"center", ScreenPosition{50, 25}, orb.Point{200, 250}},
		{"bottom right", ScreenPosition{100, 50}, orb.Point{300, 200}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.world, vp.ScreenToWorld(tc.screen)); diff != "" {
				t.Errorf("ScreenToWorld mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.screen, vp.WorldToScreen(tc.world)); diff != "" {
				t.Errorf("WorldToScreen mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if diff := cmp.Diff(orb.Bound{Min: orb.Point{100, 200}, Max: orb.Point{300, 300}}, vp.Extent()); diff != "" {
		t.Errorf("extent mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"png", PNG, false},
		{"", PNG, false},
		{"JPG", JPEG, false},
		{"jpeg", JPEG, false},
		{"gif", PNG, true},
	}
	for _, tc := range tests {
		got, err := ParseFormat(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRenderToBitmap(t *testing.T) {
	r := NewGGRenderer(nil, nil)
	l := &staticLayer{
		name:     "points",
		style:    &style.SymbolStyle{Size: 20, Fill: red},
		features: []*feature.Feature{feature.NewPoint(0, 0)},
	}
	vp := Viewport{Resolution: 1, Width: 64, Height: 48}

	data, err := r.RenderToBitmap(vp, []Layer{l}, 1, PNG)
	if err != nil {
		t.Fatalf("RenderToBitmap: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("unexpected image size %v", b)
	}

	cr, _, _, ca := img.At(32, 24).RGBA()
	if cr>>8 < 200 || ca>>8 < 200 {
		t.Errorf("expected a red symbol in the center, got %v", img.At(32, 24))
	}
	if _, _, _, a := img.At(2, 2).RGBA(); a != 0 {
		t.Errorf("expected a transparent corner, got %v", img.At(2, 2))
	}
}

func TestRenderToBitmapPixelDensity(t *testing.T) {
	r := NewGGRenderer(nil, nil)
	vp := Viewport{Resolution: 1, Width: 10, Height: 10}

	data, err := r.RenderToBitmap(vp, nil, 2, JPEG)
	if err != nil {
		t.Fatalf("RenderToBitmap: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if format != "jpeg" || cfg.Width != 20 || cfg.Height != 20 {
		t.Errorf("got %s %dx%d, want jpeg 20x20", format, cfg.Width, cfg.Height)
	}

	if _, err := r.RenderToBitmap(Viewport{Resolution: 1}, nil, 1, PNG); err == nil {
		t.Error("expected an error for an empty viewport")
	}
}

func TestGetMapInfo(t *testing.T) {
	r := NewGGRenderer(nil, nil)
	point := feature.NewPoint(0, 0)
	square := feature.New(orb.Polygon{{{10, 10}, {20, 10}, {20, 20}, {10, 20}, {10, 10}}})

	points := &staticLayer{name: "points", style: &style.SymbolStyle{Size: 10}, features: []*feature.Feature{point}}
	areas := &staticLayer{name: "areas", style: &style.VectorStyle{LineWidth: 1}, features: []*feature.Feature{square}}
	vp := Viewport{Resolution: 1, Width: 100, Height: 100}

	tests := []struct {
		name  string
		world orb.Point
		want  []uint64
	}{
		{"on point", orb.Point{0, 0}, []uint64{point.ID}},
		{"near point", orb.Point{4, 0}, []uint64{point.ID}},
		{"inside polygon", orb.Point{15, 15}, []uint64{square.ID}},
		{"nothing", orb.Point{-30, -30}, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := r.GetMapInfo(vp.WorldToScreen(tc.world), vp, []Layer{points, areas})
			var got []uint64
			for _, rec := range info.Records {
				got = append(got, rec.Feature.ID)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("hits mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFeatureSymbolSizes(t *testing.T) {
	reg := NewBitmapRegistry()
	id := reg.Register(image.NewRGBA(image.Rect(0, 0, 40, 20)))
	sr := FeatureSymbolRenderer{Registry: reg}

	tests := []struct {
		name   string
		symbol feature.Symbol
		want   float64
	}{
		{"marker", &feature.Marker{Scale: 2}, 2 * feature.MarkerPinSize},
		{"mark", &feature.SymbolMark{Size: 12}, 12},
		{"default mark", &feature.SymbolMark{}, style.DefaultSymbolSize},
		{"icon", &feature.IconSymbol{BitmapID: id, Scale: 0.5}, 20},
		{"missing icon", &feature.IconSymbol{BitmapID: id + 1}, 0},
		{"plain", nil, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := feature.NewPoint(0, 0)
			f.Symbol = tc.symbol
			if got := sr.FeatureSize(&style.FeatureSymbols{}, f); got != tc.want {
				t.Errorf("FeatureSize = %v, want %v", got, tc.want)
			}
		})
	}

	if !reg.Unregister(id) || reg.Unregister(id) {
		t.Error("Unregister should succeed exactly once")
	}
}

func TestPoolReusesRenderers(t *testing.T) {
	var created int
	p := NewPool(func() Renderer {
		created++
		return NewGGRenderer(nil, nil)
	})

	a, releaseA := p.Acquire()
	b, releaseB := p.Acquire()
	if a == b {
		t.Fatal("concurrent acquires must not share a renderer")
	}
	releaseA()
	releaseA()
	if p.Idle() != 1 {
		t.Fatalf("expected 1 idle renderer, got %d", p.Idle())
	}

	c, releaseC := p.Acquire()
	if c != a {
		t.Error("expected the released renderer to be reused")
	}
	releaseB()
	releaseC()

	if created != 2 {
		t.Errorf("created %d renderers, want 2", created)
	}
}

func TestHTTPMapInfoFetcher(t *testing.T) {
	var calls atomic.Int32
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write([]byte(`{"type":"FeatureCollection","features":[
			{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"layer":"b","name":"x"}},
			{"type":"Feature","geometry":{"type":"Point","coordinates":[3,4]},"properties":{}}]}`))
	}))
	defer srv.Close()

	h := NewHTTPMapInfoFetcher(srv.URL+"/info?x={x}&y={y}&layers={layers}", 5*time.Second, nil)
	layers := []Layer{&staticLayer{name: "a"}, &staticLayer{name: "b"}}
	vp := Viewport{Resolution: 1, Width: 10, Height: 10}

	info, err := h.GetRemoteMapInfo(context.Background(), ScreenPosition{5, 5}, vp, layers)
	if err != nil {
		t.Fatalf("GetRemoteMapInfo: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected one retry, got %d calls", calls.Load())
	}
	if gotQuery != "x=0&y=0&layers=a,b" {
		t.Errorf("unexpected query %q", gotQuery)
	}
	if len(info.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(info.Records))
	}
	if info.Records[0].Layer.Name() != "b" || info.Records[1].Layer.Name() != "a" {
		t.Errorf("unexpected layer assignment %s %s", info.Records[0].Layer.Name(), info.Records[1].Layer.Name())
	}
	if info.Feature().Properties["name"] != "x" {
		t.Errorf("properties not preserved: %v", info.Feature().Properties)
	}
}

func TestHTTPMapInfoFetcherClientError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h := NewHTTPMapInfoFetcher(srv.URL, time.Second, nil)
	_, err := h.GetRemoteMapInfo(context.Background(), ScreenPosition{}, Viewport{Resolution: 1, Width: 1, Height: 1}, []Layer{&staticLayer{name: "a"}})
	if err == nil {
		t.Fatal("expected an error for a 404")
	}
}

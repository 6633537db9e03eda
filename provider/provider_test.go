package provider

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/tilezen/go-tilefetch/feature"
	"github.com/tilezen/go-tilefetch/fetch"
)

func fetchInfo(t *testing.T, minX, minY, maxX, maxY, res float64) fetch.FetchInfo {
	t.Helper()
	fi, err := fetch.NewFetchInfo(orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}, res, "", fetch.Discrete)
	if err != nil {
		t.Fatalf("NewFetchInfo: %v", err)
	}
	return fi
}

func ids(fs []*feature.Feature) []uint64 {
	result := make([]uint64, 0, len(fs))
	for _, f := range fs {
		result = append(result, f.ID)
	}
	return result
}

func TestMemoryGetFeatures(t *testing.T) {
	inside := feature.NewPoint(5, 5)
	nearEdge := feature.NewPoint(10.4, 5)
	outside := feature.NewPoint(50, 50)
	m := NewMemory(inside, nearEdge, outside)
	m.SetSymbolSize(1)

	tests := []struct {
		name string
		fi   fetch.FetchInfo
		want []uint64
	}{
		{"inside only", fetchInfo(t, 0, 0, 10, 10, 0.1), []uint64{inside.ID}},
		{"grown by half a symbol", fetchInfo(t, 0, 0, 10, 10, 1), []uint64{inside.ID, nearEdge.ID}},
		{"everything", fetchInfo(t, 0, 0, 100, 100, 1), []uint64{inside.ID, nearEdge.ID, outside.ID}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.GetFeatures(context.Background(), tc.fi)
			if err != nil {
				t.Fatalf("GetFeatures: %v", err)
			}
			if diff := cmp.Diff(tc.want, ids(got)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMemoryRejectsInvalidFetchInfo(t *testing.T) {
	m := NewMemory(feature.NewPoint(0, 0))
	_, err := m.GetFeatures(context.Background(), fetch.FetchInfo{Extent: orb.Bound{Max: orb.Point{1, 1}}})
	if !errors.Is(err, fetch.ErrInvalidResolution) {
		t.Fatalf("expected ErrInvalidResolution, got %v", err)
	}
}

func TestMemoryExtentIsUnion(t *testing.T) {
	m := NewMemory()
	if _, ok := m.Extent(); ok {
		t.Fatal("empty provider should have no extent")
	}

	m.Add(feature.NewPoint(-3, 2))
	m.AddAll(feature.NewPoint(4, -1), feature.New(orb.LineString{{0, 0}, {1, 9}}))

	got, ok := m.Extent()
	if !ok {
		t.Fatal("expected an extent")
	}
	want := orb.Bound{Min: orb.Point{-3, -1}, Max: orb.Point{4, 9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("extent mismatch (-want +got):\n%s", diff)
	}

	m.Clear()
	if _, ok := m.Extent(); ok {
		t.Error("cleared provider should have no extent")
	}
}

func TestMemoryRemoveAndFind(t *testing.T) {
	a := feature.NewPoint(1, 1)
	a.Properties["name"] = "a"
	b := feature.NewPoint(2, 2)
	b.Properties["name"] = "b"
	m := NewMemory(a, b)

	var changes int
	unsubscribe := m.OnDataChanged(func(fetch.Result) { changes++ })
	defer unsubscribe()

	if got := m.Find("name", "b"); got != b {
		t.Errorf("Find returned %v, want b", got)
	}
	if got := m.Find("name", "c"); got != nil {
		t.Errorf("Find returned %v, want nil", got)
	}
	if !m.Remove(a) {
		t.Error("Remove(a) returned false")
	}
	if m.Remove(a) {
		t.Error("second Remove(a) returned true")
	}
	if diff := cmp.Diff([]uint64{b.ID}, ids(m.Features())); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	if changes != 1 {
		t.Errorf("expected 1 change notification, got %d", changes)
	}
}

func TestGeoJSONRoundTrip(t *testing.T) {
	in := []*feature.Feature{
		feature.NewPoint(1, 2),
		feature.New(orb.LineString{{0, 0}, {3, 4}}),
	}
	in[0].Properties["name"] = "point"

	data, err := feature.ToGeoJSON(in).MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	path := filepath.Join(t.TempDir(), "features.geojson")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadGeoJSON(path, EPSG4326)
	if err != nil {
		t.Fatalf("LoadGeoJSON: %v", err)
	}
	if m.CRS() != EPSG4326 {
		t.Errorf("crs = %q", m.CRS())
	}

	out := m.Features()
	if len(out) != len(in) {
		t.Fatalf("expected %d features, got %d", len(in), len(out))
	}
	for i := range in {
		if diff := cmp.Diff(in[i].Geometry, out[i].Geometry); diff != "" {
			t.Errorf("feature %d geometry mismatch (-want +got):\n%s", i, diff)
		}
	}
	if out[0].Properties["name"] != "point" {
		t.Errorf("properties not preserved: %v", out[0].Properties)
	}
}

func TestFiltering(t *testing.T) {
	keep := feature.NewPoint(1, 1)
	keep.Properties["keep"] = true
	drop := feature.NewPoint(2, 2)

	p := NewFiltering(NewMemory(keep, drop), func(f *feature.Feature) bool {
		return f.Properties["keep"] == true
	})

	got, err := p.GetFeatures(context.Background(), fetchInfo(t, 0, 0, 10, 10, 1))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint64{keep.ID}, ids(got)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestProjecting(t *testing.T) {
	src := NewMemory(feature.NewPoint(10, 20))
	src.SetCRS(EPSG4326)

	p := NewProjecting(src, nil)
	p.SetCRS(EPSG3857)

	extent, ok := p.Extent()
	if !ok {
		t.Fatal("expected an extent")
	}
	if math.Abs(extent.Min.X()-1113194.9079) > 0.01 {
		t.Errorf("unexpected projected x %f", extent.Min.X())
	}

	fi := fetchInfo(t, 0, 0, 2000000, 3000000, 1000)
	fi.CRS = EPSG3857
	got, err := p.GetFeatures(context.Background(), fi)
	if err != nil {
		t.Fatalf("GetFeatures: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got))
	}
	pt := got[0].Geometry.(orb.Point)
	if math.Abs(pt.X()-extent.Min.X()) > 0.01 || math.Abs(pt.Y()-extent.Min.Y()) > 0.01 {
		t.Errorf("feature not projected: %v", pt)
	}

	// The source keeps its own coordinates.
	if diff := cmp.Diff(orb.Point{10, 20}, src.Features()[0].Geometry); diff != "" {
		t.Errorf("source geometry modified (-want +got):\n%s", diff)
	}
}

func TestProjectingUnsupported(t *testing.T) {
	src := NewMemory(feature.NewPoint(10, 20))
	src.SetCRS("EPSG:28992")

	p := NewProjecting(src, nil)
	p.SetCRS(EPSG3857)

	_, err := p.GetFeatures(context.Background(), fetchInfo(t, 0, 0, 10, 10, 1))
	if !errors.Is(err, ErrUnsupportedProjection) {
		t.Fatalf("expected ErrUnsupportedProjection, got %v", err)
	}
}

func TestSimplify(t *testing.T) {
	line := feature.New(orb.LineString{{0, 0}, {1, 0.01}, {2, 0}, {3, 0.01}, {4, 0}})
	p := NewSimplify(NewMemory(line))

	got, err := p.GetFeatures(context.Background(), fetchInfo(t, 0, -1, 4, 1, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got))
	}
	if diff := cmp.Diff(orb.LineString{{0, 0}, {4, 0}}, got[0].Geometry); diff != "" {
		t.Errorf("simplified geometry mismatch (-want +got):\n%s", diff)
	}
	if got[0].ID == line.ID {
		t.Error("simplified feature should get a new id")
	}
	if len(line.Geometry.(orb.LineString)) != 5 {
		t.Error("source geometry modified")
	}
}

func TestIntersection(t *testing.T) {
	crossing := feature.New(orb.LineString{{-50, 5}, {50, 5}})
	m := NewMemory(crossing)
	m.SetSymbolSize(0)
	p := NewIntersection(m)

	got, err := p.GetFeatures(context.Background(), fetchInfo(t, 0, 0, 10, 10, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got))
	}
	want := orb.Bound{Min: orb.Point{-1, 5}, Max: orb.Point{11, 5}}
	if diff := cmp.Diff(want, got[0].Geometry.Bound()); diff != "" {
		t.Errorf("clipped bound mismatch (-want +got):\n%s", diff)
	}
}

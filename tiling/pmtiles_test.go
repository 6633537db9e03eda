package tiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/protomaps/go-pmtiles/pmtiles"
)

func TestRunLengthEncode(t *testing.T) {
	entries := []pmtiles.EntryV3{
		{TileID: 3, Offset: 10, Length: 5, RunLength: 1},
		{TileID: 1, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 2, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 4, Offset: 10, Length: 5, RunLength: 1},
		{TileID: 6, Offset: 10, Length: 5, RunLength: 1},
	}
	want := []pmtiles.EntryV3{
		{TileID: 1, Offset: 0, Length: 10, RunLength: 2},
		{TileID: 3, Offset: 10, Length: 5, RunLength: 2},
		{TileID: 6, Offset: 10, Length: 5, RunLength: 1},
	}
	if diff := cmp.Diff(want, runLengthEncode(entries)); diff != "" {
		t.Errorf("runLengthEncode mismatch (-want +got):\n%s", diff)
	}
}

func TestPmtilesExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pmtiles")
	bounds := orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}

	p, err := NewPmtilesExporter(path, NewRasterMetadata("points", "png", bounds, 0, 1), nil)
	if err != nil {
		t.Fatal(err)
	}

	tiles := map[maptile.Tile][]byte{
		maptile.New(0, 0, 0): []byte("world"),
		maptile.New(0, 0, 1): []byte("same"),
		maptile.New(1, 0, 1): []byte("same"),
		maptile.New(1, 1, 1): nil,
	}
	for tile, data := range tiles {
		if err := p.Save(tile, data); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	header, err := pmtiles.DeserializeHeader(data[0:pmtiles.HeaderV3LenBytes])
	if err != nil {
		t.Fatal(err)
	}

	if header.AddressedTilesCount != 3 {
		t.Errorf("AddressedTilesCount = %d, want 3", header.AddressedTilesCount)
	}
	if header.TileContentsCount != 2 {
		t.Errorf("TileContentsCount = %d, want 2", header.TileContentsCount)
	}
	if header.TileType != pmtiles.Png {
		t.Errorf("TileType = %v, want png", header.TileType)
	}
	if header.MinZoom != 0 || header.MaxZoom != 1 {
		t.Errorf("zooms = %d..%d", header.MinZoom, header.MaxZoom)
	}
	if header.MinLonE7 != -100000000 || header.MaxLatE7 != 100000000 {
		t.Errorf("bounds = %d,%d", header.MinLonE7, header.MaxLatE7)
	}
	if got := uint64(len(data)); got != header.TileDataOffset+header.TileDataLength {
		t.Errorf("file is %d bytes, header says %d", got, header.TileDataOffset+header.TileDataLength)
	}
}

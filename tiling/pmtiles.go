package tiling

import (
	"fmt"
	"hash"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/paulmach/orb/maptile"
	"github.com/protomaps/go-pmtiles/pmtiles"
	"github.com/tilezen/go-tilefetch/internal/logutil"
)

type offsetLen struct {
	offset uint64
	length uint32
}

// PmtilesExporter writes raster tiles into a PMTiles v3 archive. Tiles are
// staged in a temporary file and the archive is assembled on Close.
// Identical tiles are stored once.
type PmtilesExporter struct {
	logger    *slog.Logger
	tileset   *roaring64.Bitmap
	hashFunc  hash.Hash
	offsetMap map[string]offsetLen
	tileData  *os.File
	entries   []pmtiles.EntryV3
	metadata  *MbtilesMetadata
	header    pmtiles.HeaderV3
	outFile   *os.File
	minZoom   maptile.Zoom
	maxZoom   maptile.Zoom
}

func NewPmtilesExporter(dsn string, metadata *MbtilesMetadata, logger *slog.Logger) (*PmtilesExporter, error) {
	if metadata == nil {
		metadata = NewMbtilesMetadata(nil)
	}

	tileType, err := pmtilesTileType(metadata.Format())
	if err != nil {
		return nil, err
	}

	tmpFile, err := os.CreateTemp("", "pmtiles-tiledata")
	if err != nil {
		return nil, fmt.Errorf("error creating temp file: %w", err)
	}

	outFile, err := os.Create(dsn)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("error creating pmtiles output file: %w", err)
	}

	return &PmtilesExporter{
		logger:    logutil.OrDiscard(logger),
		outFile:   outFile,
		tileset:   roaring64.New(),
		hashFunc:  fnv.New128a(),
		tileData:  tmpFile,
		offsetMap: make(map[string]offsetLen),
		metadata:  metadata,
		minZoom:   math.MaxUint8,
		header: pmtiles.HeaderV3{
			TileType:            tileType,
			TileCompression:     pmtiles.NoCompression,
			InternalCompression: pmtiles.Gzip,
		},
	}, nil
}

func pmtilesTileType(format string) (pmtiles.TileType, error) {
	switch format {
	case "", "png":
		return pmtiles.Png, nil
	case "jpg", "jpeg":
		return pmtiles.Jpeg, nil
	}
	return pmtiles.Png, fmt.Errorf("unsupported pmtiles tile format %q", format)
}

// Save adds one XYZ tile. Empty tiles are skipped and a tile saved twice
// keeps its first data.
func (p *PmtilesExporter) Save(tile maptile.Tile, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	id := pmtiles.ZxyToID(uint8(tile.Z), tile.X, tile.Y)
	if p.tileset.Contains(id) {
		return nil
	}
	p.tileset.Add(id)

	if tile.Z < p.minZoom {
		p.minZoom = tile.Z
	}
	if tile.Z > p.maxZoom {
		p.maxZoom = tile.Z
	}

	p.hashFunc.Reset()
	p.hashFunc.Write(data)
	sumString := string(p.hashFunc.Sum(nil))
	found, ok := p.offsetMap[sumString]

	if !ok {
		offset, err := p.tileData.Seek(0, io.SeekEnd)
		if err != nil {
			return err
		}

		bytesWritten, err := p.tileData.Write(data)
		if err != nil {
			return err
		}

		found = offsetLen{
			offset: uint64(offset),
			length: uint32(bytesWritten),
		}
		p.offsetMap[sumString] = found
	}

	p.entries = append(p.entries, pmtiles.EntryV3{
		TileID:    id,
		Offset:    found.offset,
		Length:    found.length,
		RunLength: 1,
	})

	return nil
}

// runLengthEncode sorts entries by tile id and merges consecutive tiles
// that point at the same data.
func runLengthEncode(entries []pmtiles.EntryV3) []pmtiles.EntryV3 {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TileID < entries[j].TileID
	})

	var result []pmtiles.EntryV3
	for _, e := range entries {
		if n := len(result); n > 0 {
			last := &result[n-1]
			if last.Offset == e.Offset && last.Length == e.Length && last.TileID+uint64(last.RunLength) == e.TileID {
				last.RunLength++
				continue
			}
		}
		result = append(result, e)
	}
	return result
}

func (p *PmtilesExporter) Close() error {
	defer os.Remove(p.tileData.Name())
	defer p.tileData.Close()
	defer p.outFile.Close()

	entries := runLengthEncode(p.entries)

	p.header.AddressedTilesCount = p.tileset.GetCardinality()
	p.header.TileEntriesCount = uint64(len(entries))
	p.header.TileContentsCount = uint64(len(p.offsetMap))
	p.setSpatialHeader()

	rootBytes, leavesBytes, numLeaves := optimizeDirectories(entries, 16384-pmtiles.HeaderV3LenBytes, pmtiles.Gzip)

	p.logger.Debug("Writing pmtiles",
		"tiles", p.header.AddressedTilesCount,
		"root_bytes", len(rootBytes),
		"leaves_bytes", len(leavesBytes),
		"leaves", numLeaves)

	jsonMetadata := make(map[string]interface{})
	for _, k := range p.metadata.Keys() {
		v, _ := p.metadata.Get(k)
		jsonMetadata[k] = v
	}

	metadataBytes, err := pmtiles.SerializeMetadata(jsonMetadata, pmtiles.Gzip)
	if err != nil {
		return fmt.Errorf("error serializing pmtiles metadata: %w", err)
	}

	offset, err := p.tileData.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	p.header.RootOffset = pmtiles.HeaderV3LenBytes
	p.header.RootLength = uint64(len(rootBytes))
	p.header.MetadataOffset = p.header.RootOffset + p.header.RootLength
	p.header.MetadataLength = uint64(len(metadataBytes))
	p.header.LeafDirectoryOffset = p.header.MetadataOffset + p.header.MetadataLength
	p.header.LeafDirectoryLength = uint64(len(leavesBytes))
	p.header.TileDataOffset = p.header.LeafDirectoryOffset + p.header.LeafDirectoryLength
	p.header.TileDataLength = uint64(offset)

	for _, part := range []struct {
		name string
		data []byte
	}{
		{"header", pmtiles.SerializeHeader(p.header)},
		{"root directory", rootBytes},
		{"metadata", metadataBytes},
		{"leaf directory", leavesBytes},
	} {
		if _, err := p.outFile.Write(part.data); err != nil {
			return fmt.Errorf("error writing pmtiles %s: %w", part.name, err)
		}
	}

	if _, err := p.tileData.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("error seeking to start of tile data: %w", err)
	}

	if _, err := io.Copy(p.outFile, p.tileData); err != nil {
		return fmt.Errorf("error copying tile data to outfile: %w", err)
	}

	return nil
}

func (p *PmtilesExporter) setSpatialHeader() {
	if p.tileset.IsEmpty() {
		p.minZoom = 0
	}
	p.header.MinZoom = uint8(p.minZoom)
	p.header.MaxZoom = uint8(p.maxZoom)
	p.header.CenterZoom = uint8(p.minZoom)

	bounds, err := p.metadata.Bounds()
	if err != nil {
		bounds = maptile.New(0, 0, 0).Bound()
	}

	e7 := func(v float64) int32 { return int32(math.Round(v * 10000000)) }
	center := bounds.Center()
	p.header.MinLonE7 = e7(bounds.Min.X())
	p.header.MinLatE7 = e7(bounds.Min.Y())
	p.header.MaxLonE7 = e7(bounds.Max.X())
	p.header.MaxLatE7 = e7(bounds.Max.Y())
	p.header.CenterLonE7 = e7(center.X())
	p.header.CenterLatE7 = e7(center.Y())
}

func optimizeDirectories(entries []pmtiles.EntryV3, targetRootLen int, compression pmtiles.Compression) ([]byte, []byte, int) {
	if len(entries) < 16384 {
		testRootBytes := pmtiles.SerializeEntries(entries, compression)
		if len(testRootBytes) <= targetRootLen {
			// The entire directory fits into the root.
			return testRootBytes, make([]byte, 0), 0
		}
	}

	// The root holds leaf pointers only. Grow the leaves until it fits.
	leafSize := float32(len(entries)) / 3500
	if leafSize < 4096 {
		leafSize = 4096
	}

	for {
		rootBytes, leavesBytes, numLeaves := buildRootsLeaves(entries, int(leafSize), compression)
		if len(rootBytes) <= targetRootLen {
			return rootBytes, leavesBytes, numLeaves
		}
		leafSize *= 1.2
	}
}

func buildRootsLeaves(entries []pmtiles.EntryV3, leafSize int, compression pmtiles.Compression) ([]byte, []byte, int) {
	rootEntries := make([]pmtiles.EntryV3, 0)
	leavesBytes := make([]byte, 0)
	numLeaves := 0

	for i := 0; i < len(entries); i += leafSize {
		numLeaves++
		end := i + leafSize
		if end > len(entries) {
			end = len(entries)
		}
		serialized := pmtiles.SerializeEntries(entries[i:end], compression)

		rootEntries = append(rootEntries, pmtiles.EntryV3{
			TileID:    entries[i].TileID,
			Offset:    uint64(len(leavesBytes)),
			Length:    uint32(len(serialized)),
			RunLength: 0,
		})
		leavesBytes = append(leavesBytes, serialized...)
	}

	rootBytes := pmtiles.SerializeEntries(rootEntries, compression)
	return rootBytes, leavesBytes, numLeaves
}

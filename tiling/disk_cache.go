package tiling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/maptile"
)

// DiskCache stores tiles as files laid out as root/z/x/y.format.
type DiskCache struct {
	root   string
	format string
}

func NewDiskCache(dsn string, format string) (*DiskCache, error) {
	root, err := filepath.Abs(dsn)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, err
		}
	} else if !info.IsDir() {
		return nil, errors.New("root is already a file")
	}

	return &DiskCache{root: root, format: format}, nil
}

func (o *DiskCache) path(tile maptile.Tile) string {
	relPath := fmt.Sprintf("%d/%d/%d.%s", tile.Z, tile.X, tile.Y, o.format)
	return filepath.Join(o.root, relPath)
}

func (o *DiskCache) Find(_ context.Context, tile maptile.Tile) ([]byte, bool, error) {
	data, err := os.ReadFile(o.path(tile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Add writes the tile to a temporary file first so readers never see a
// partial tile.
func (o *DiskCache) Add(_ context.Context, tile maptile.Tile, data []byte) error {
	absPath := o.path(tile)
	dir := filepath.Dir(absPath)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	fh, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return err
	}
	defer os.Remove(fh.Name())

	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return err
	}
	if err := fh.Close(); err != nil {
		return err
	}

	return os.Rename(fh.Name(), absPath)
}

func (o *DiskCache) Close() error {
	return nil
}

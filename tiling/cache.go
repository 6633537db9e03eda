package tiling

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb/maptile"
)

// PersistentCache stores encoded tiles. Find reports found=false for a
// miss; a found tile may have zero bytes, meaning the tile is known to be
// empty. Implementations must be safe for concurrent use.
type PersistentCache interface {
	Find(ctx context.Context, tile maptile.Tile) (data []byte, found bool, err error)
	Add(ctx context.Context, tile maptile.Tile, data []byte) error
}

// NullCache never stores anything.
type NullCache struct{}

func (NullCache) Find(context.Context, maptile.Tile) ([]byte, bool, error) { return nil, false, nil }
func (NullCache) Add(context.Context, maptile.Tile, []byte) error          { return nil }

// MemoryCache keeps the most recently used tiles in memory.
type MemoryCache struct {
	tiles *lru.Cache[maptile.Tile, []byte]
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	c, err := lru.New[maptile.Tile, []byte](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{tiles: c}, nil
}

func (c *MemoryCache) Find(_ context.Context, tile maptile.Tile) ([]byte, bool, error) {
	data, ok := c.tiles.Get(tile)
	return data, ok, nil
}

func (c *MemoryCache) Add(_ context.Context, tile maptile.Tile, data []byte) error {
	c.tiles.Add(tile, data)
	return nil
}

func (c *MemoryCache) Len() int {
	return c.tiles.Len()
}

// ChainCache looks tiles up in order and writes to every cache. A tile
// found further down the chain is copied into the caches before it.
type ChainCache []PersistentCache

func (c ChainCache) Find(ctx context.Context, tile maptile.Tile) ([]byte, bool, error) {
	for i, cache := range c {
		data, found, err := cache.Find(ctx, tile)
		if err != nil {
			return nil, false, err
		}
		if !found {
			continue
		}
		for _, front := range c[:i] {
			if err := front.Add(ctx, tile, data); err != nil {
				return data, true, err
			}
		}
		return data, true, nil
	}
	return nil, false, nil
}

func (c ChainCache) Add(ctx context.Context, tile maptile.Tile, data []byte) error {
	var errs []error
	for _, cache := range c {
		if err := cache.Add(ctx, tile, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every cache in the chain that needs closing.
func (c ChainCache) Close() error {
	var errs []error
	for _, cache := range c {
		if closer, ok := cache.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

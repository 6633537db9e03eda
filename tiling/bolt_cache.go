package tiling

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb/maptile"
	bolt "go.etcd.io/bbolt"
)

const bucketTiles = "tiles"

// BoltCache stores tiles in a single bolt database file.
type BoltCache struct {
	db *bolt.DB
}

func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketTiles))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCache{db: db}, nil
}

func tileKey(tile maptile.Tile) []byte {
	return []byte(fmt.Sprintf("%d/%d/%d", tile.Z, tile.X, tile.Y))
}

func (c *BoltCache) Find(_ context.Context, tile maptile.Tile) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		key := tileKey(tile)
		k, v := tx.Bucket([]byte(bucketTiles)).Cursor().Seek(key)
		if bytes.Equal(k, key) {
			// v is only valid inside the transaction.
			data = append([]byte{}, v...)
			found = true
		}
		return nil
	})
	return data, found, err
}

func (c *BoltCache) Add(_ context.Context, tile maptile.Tile, data []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketTiles))
		if data == nil {
			data = []byte{}
		}
		return b.Put(tileKey(tile), data)
	})
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}

package tiling

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 database driver
	"github.com/paulmach/orb/maptile"
)

const (
	defaultBatchSize = 1000
)

// MbtilesCache stores tiles in an MBTiles sqlite database. Identical tiles
// share one row in the images table. Writes are committed in batches; reads
// see uncommitted writes.
type MbtilesCache struct {
	mu         sync.Mutex
	db         *sql.DB
	txn        *sql.Tx
	batchCount int
	batchSize  int
}

func NewMbtilesCache(dsn string) (*MbtilesCache, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	return NewMbtilesCacheWithDatabase(db)
}

func NewMbtilesCacheWithDatabase(db *sql.DB) (*MbtilesCache, error) {
	// Reads must go through the open write transaction.
	db.SetMaxOpenConns(1)

	o := &MbtilesCache{db: db, batchSize: defaultBatchSize}
	if err := o.createTiles(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

// SetBatchSize sets how many writes are grouped into one transaction.
func (o *MbtilesCache) SetBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	o.mu.Lock()
	o.batchSize = n
	o.mu.Unlock()
}

func (o *MbtilesCache) createTiles() error {
	_, err := o.db.Exec(`
		BEGIN TRANSACTION;
		CREATE TABLE IF NOT EXISTS map (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_id TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS map_index ON map (zoom_level, tile_column, tile_row);
		CREATE TABLE IF NOT EXISTS images (
			tile_data BLOB NOT NULL,
			tile_id TEXT NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS images_id ON images (tile_id);
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT,
			value TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS name ON metadata (name);
		CREATE VIEW IF NOT EXISTS tiles AS
		SELECT
			map.zoom_level AS zoom_level,
			map.tile_column AS tile_column,
			map.tile_row AS tile_row,
			images.tile_data AS tile_data
		FROM map
		JOIN images ON images.tile_id = map.tile_id;
		COMMIT;
		PRAGMA synchronous=OFF;
	`)
	return err
}

// tmsRow converts an XYZ row to the bottom-up row MBTiles stores.
func tmsRow(tile maptile.Tile) uint32 {
	return (uint32(1) << uint32(tile.Z)) - 1 - tile.Y
}

type queryer interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func (o *MbtilesCache) queryer() queryer {
	if o.txn != nil {
		return o.txn
	}
	return o.db
}

func (o *MbtilesCache) Find(_ context.Context, tile maptile.Tile) ([]byte, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var data []byte
	result := o.queryer().QueryRow("SELECT tile_data FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=? LIMIT 1", tile.Z, tile.X, tmsRow(tile))
	if err := result.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (o *MbtilesCache) Add(_ context.Context, tile maptile.Tile, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if data == nil {
		data = []byte{}
	}

	if o.txn == nil {
		tx, err := o.db.Begin()
		if err != nil {
			return err
		}
		o.txn = tx
	}

	hash := md5.Sum(data)
	tileID := hex.EncodeToString(hash[:])

	_, err := o.txn.Exec("INSERT OR REPLACE INTO images (tile_id, tile_data) VALUES (?, ?);", tileID, data)
	if err != nil {
		return err
	}

	_, err = o.txn.Exec("INSERT OR REPLACE INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?);", tile.Z, tile.X, tmsRow(tile), tileID)
	if err != nil {
		return err
	}

	o.batchCount++
	if o.batchCount%o.batchSize == 0 {
		return o.commitLocked()
	}
	return nil
}

// Flush commits pending writes.
func (o *MbtilesCache) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.commitLocked()
}

func (o *MbtilesCache) commitLocked() error {
	if o.txn == nil {
		return nil
	}
	err := o.txn.Commit()
	o.txn = nil
	o.batchCount = 0
	return err
}

// VisitAllTiles runs visitor on every tile in the database.
func (o *MbtilesCache) VisitAllTiles(visitor func(maptile.Tile, []byte)) error {
	if err := o.Flush(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	rows, err := o.db.Query("SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles")
	if err != nil {
		return err
	}
	defer rows.Close()

	var x, y uint32
	var z maptile.Zoom
	for rows.Next() {
		data := []byte{}
		if err := rows.Scan(&z, &x, &y, &data); err != nil {
			return fmt.Errorf("couldn't scan row: %w", err)
		}

		t := maptile.New(x, 0, z)
		t.Y = tmsRow(maptile.New(x, y, z))
		visitor(t, data)
	}
	return rows.Err()
}

// Metadata reads the metadata table.
func (o *MbtilesCache) Metadata() (*MbtilesMetadata, error) {
	if err := o.Flush(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	rows, err := o.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metadata := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metadata[name] = value
	}
	return NewMbtilesMetadata(metadata), rows.Err()
}

// WriteMetadata stores every key of m, replacing existing values.
func (o *MbtilesCache) WriteMetadata(m *MbtilesMetadata) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.commitLocked(); err != nil {
		return err
	}

	tx, err := o.db.Begin()
	if err != nil {
		return err
	}
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		if _, err := tx.Exec("INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)", k, v); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close gracefully tears down the mbtiles connection.
func (o *MbtilesCache) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.commitLocked()

	if o.db != nil {
		if err2 := o.db.Close(); err2 != nil {
			err = err2
		}
		o.db = nil
	}

	return err
}

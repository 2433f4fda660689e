package mbtiles

import (
	"crypto/md5"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// AggTilesHashKey is the reserved metadata key the aggregate hash lives
// under.
const AggTilesHashKey = "agg_tiles_hash"

// ComputeAggHash computes the lowercase hex MD5 over the ordered
// concatenation (z BE u8)(x BE u32)(y BE u32)(md5(tile_data)) for every
// tile in (z, x, y) ascending order.
func ComputeAggHash(db *sql.DB, schema Schema) (string, error) {
	rows, err := fetchOrderedTileHashes(db, schema)
	if err != nil {
		return "", err
	}

	h := md5.New()
	buf := make([]byte, 1+4+4)
	for _, r := range rows {
		buf[0] = byte(r.Coord.Z)
		binary.BigEndian.PutUint32(buf[1:5], uint32(r.Coord.X))
		binary.BigEndian.PutUint32(buf[5:9], uint32(r.Coord.Y))
		h.Write(buf)
		tileHash := md5.Sum(r.Data)
		h.Write(tileHash[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// fetchOrderedTileHashes loads every (coord, tile_data) row sorted
// ascending by (z, x, y). Unlike StreamTiles (order-agnostic, holds the
// connection open), this fully materializes the set because agg-hash
// computation requires a deterministic order.
func fetchOrderedTileHashes(db *sql.DB, schema Schema) ([]TileRow, error) {
	table := schema.TilesSelectSource()
	query := `SELECT zoom_level, tile_column, tile_row, tile_data FROM ` + table + ` ORDER BY zoom_level, tile_column, tile_row`
	if schema.Type == Normalized && !schema.HashView {
		query = `SELECT map.zoom_level, map.tile_column, map.tile_row, images.tile_data
			FROM map JOIN images ON map.tile_id = images.tile_id
			ORDER BY map.zoom_level, map.tile_column, map.tile_row`
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TileRow
	for rows.Next() {
		var r TileRow
		if err := rows.Scan(&r.Coord.Z, &r.Coord.X, &r.Coord.Y, &r.Data); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// ORDER BY already sorts, but guard against collations surprising us.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coord, out[j].Coord
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return out, nil
}

// StoreAggHash writes the computed hash into metadata, replacing any
// prior value.
func StoreAggHash(db *sql.DB, key, value string) error {
	_, err := db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// ReadMetadataValue reads a single metadata value, returning ("", false)
// if absent.
func ReadMetadataValue(db *sql.DB, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM metadata WHERE name = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

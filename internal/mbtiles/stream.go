package mbtiles

import (
	"context"
)

// Coord is a tile coordinate in TMS addressing, as stored in MBTiles.
type Coord struct {
	Z, X, Y int
}

// TileRow is one (coord, data) pair yielded by StreamTiles.
type TileRow struct {
	Coord Coord
	Data  []byte
}

// StreamTiles yields every (z,x,y,tile_data) row via fn, in whatever
// order SQLite returns them. The underlying *sql.Rows holds an
// exclusive borrow on the connection for
// its lifetime — fn must not issue other queries against the same
// Handle concurrently from the same goroutine. Returning a non-nil error
// from fn stops iteration and is returned by StreamTiles.
func (h *Handle) StreamTiles(ctx context.Context, fn func(TileRow) error) error {
	table := h.Schema.TilesSelectSource()
	var query string
	switch h.Schema.Type {
	case Normalized:
		if h.Schema.HashView {
			query = `SELECT zoom_level, tile_column, tile_row, tile_data FROM ` + table
		} else {
			query = `SELECT map.zoom_level, map.tile_column, map.tile_row, images.tile_data FROM ` + table
		}
	default:
		query = `SELECT zoom_level, tile_column, tile_row, tile_data FROM ` + table
	}

	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row TileRow
		if err := rows.Scan(&row.Coord.Z, &row.Coord.X, &row.Coord.Y, &row.Data); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return rows.Err()
}

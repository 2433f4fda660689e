package mbtiles

import "database/sql"

// InitSchema creates the tables, the `tiles` view (for FlatWithHash /
// Normalized), and — for Normalized — the orphan-image-deletion triggers.
func InitSchema(db *sql.DB, schemaType SchemaType) error {
	stmts := []string{`CREATE TABLE IF NOT EXISTS metadata (name TEXT PRIMARY KEY, value TEXT)`}

	switch schemaType {
	case Flat:
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS tiles (
				zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB,
				PRIMARY KEY (zoom_level, tile_column, tile_row))`,
		)
	case FlatWithHash:
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS tiles_with_hash (
				zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB, tile_hash TEXT,
				PRIMARY KEY (zoom_level, tile_column, tile_row))`,
			`CREATE VIEW IF NOT EXISTS tiles AS
				SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles_with_hash`,
		)
	case Normalized:
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS map (
				zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_id TEXT,
				PRIMARY KEY (zoom_level, tile_column, tile_row))`,
			`CREATE TABLE IF NOT EXISTS images (
				tile_id TEXT PRIMARY KEY, tile_data BLOB)`,
			`CREATE VIEW IF NOT EXISTS tiles_with_hash AS
				SELECT map.zoom_level AS zoom_level, map.tile_column AS tile_column, map.tile_row AS tile_row,
					images.tile_data AS tile_data, map.tile_id AS tile_id
				FROM map JOIN images ON map.tile_id = images.tile_id`,
			`CREATE VIEW IF NOT EXISTS tiles AS
				SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles_with_hash`,
			// Orphan-image GC: when a map row is updated to point at a
			// different tile_id, or deleted outright, drop any image
			// left with no remaining referrer.
			`CREATE TRIGGER IF NOT EXISTS map_update_orphan_gc AFTER UPDATE ON map
				WHEN OLD.tile_id != NEW.tile_id
				BEGIN
					DELETE FROM images WHERE tile_id = OLD.tile_id
						AND NOT EXISTS (SELECT 1 FROM map WHERE tile_id = OLD.tile_id);
				END`,
			`CREATE TRIGGER IF NOT EXISTS map_delete_orphan_gc AFTER DELETE ON map
				BEGIN
					DELETE FROM images WHERE tile_id = OLD.tile_id
						AND NOT EXISTS (SELECT 1 FROM map WHERE tile_id = OLD.tile_id);
				END`,
		)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// gcOrphanImages deletes any images no longer referenced by map, used
// after a patch application touches map rows directly with INSERT/
// DELETE statements that bypass the per-row triggers' OLD/NEW context.
// Orphan images left behind by that direct access must be collected
// after every patch application.
func gcOrphanImages(db *sql.DB) error {
	_, err := db.Exec(`DELETE FROM images WHERE tile_id NOT IN (SELECT tile_id FROM map)`)
	return err
}

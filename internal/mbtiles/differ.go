package mbtiles

import (
	"bytes"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// DiffOptions parameterizes Diff.
type DiffOptions struct {
	SrcPath, DifPath, OutPath string
	Variant                  *BindiffVariant // nil = store full replacement bytes, no binary delta
	DstType                  *SchemaType     // nil = src's schema type
}

// Diff compares src against dif tile-by-tile and writes an output
// MBTiles file P containing only additions (dif-only
// rows), deletions (src-only rows, stored as NULL tile_data), and
// modifications (bytes differ) — either as full replacement bytes or, in
// bindiff mode, as a binary delta in an auxiliary table. P's metadata
// records agg_tiles_hash_before_apply/after_apply plus its own
// agg_tiles_hash over P's own tiles table.
func Diff(opts DiffOptions) error {
	srcSchema, err := schemaOf(opts.SrcPath)
	if err != nil {
		return fmt.Errorf("reading source schema: %w", err)
	}
	difSchema, err := schemaOf(opts.DifPath)
	if err != nil {
		return fmt.Errorf("reading dif schema: %w", err)
	}

	patchType := srcSchema.Type
	if opts.DstType != nil {
		patchType = *opts.DstType
	}
	if opts.Variant != nil && patchType != FlatWithHash {
		return fmt.Errorf("bindiff patches require FlatWithHash schema, got %s", patchType)
	}

	out, err := sql.Open(driverName, opts.OutPath)
	if err != nil {
		return fmt.Errorf("creating patch file %s: %w", opts.OutPath, err)
	}
	defer out.Close()

	if err := InitSchema(out, patchType); err != nil {
		return fmt.Errorf("initializing patch schema: %w", err)
	}

	if _, err := out.Exec(fmt.Sprintf(`ATTACH DATABASE %s AS srcDb`, quoteLiteral(opts.SrcPath))); err != nil {
		return fmt.Errorf("attaching source: %w", err)
	}
	defer out.Exec(`DETACH DATABASE srcDb`)
	if _, err := out.Exec(fmt.Sprintf(`ATTACH DATABASE %s AS difDb`, quoteLiteral(opts.DifPath))); err != nil {
		return fmt.Errorf("attaching dif: %w", err)
	}
	defer out.Exec(`DETACH DATABASE difDb`)

	srcFrom := attachedSource("srcDb", srcSchema)
	difFrom := attachedSource("difDb", difSchema)

	srcTiles, err := queryAllTiles(out, srcFrom)
	if err != nil {
		return fmt.Errorf("reading source tiles: %w", err)
	}
	difTiles, err := queryAllTiles(out, difFrom)
	if err != nil {
		return fmt.Errorf("reading dif tiles: %w", err)
	}

	seen := make(map[Coord]bool, len(srcTiles))
	for c, sdata := range srcTiles {
		seen[c] = true
		ddata, inDif := difTiles[c]
		switch {
		case !inDif:
			if err := insertPatchRow(out, patchType, c, nil, nil); err != nil {
				return fmt.Errorf("writing deletion row %v: %w", c, err)
			}
		case bytes.Equal(sdata, ddata):
			// identical, omit from patch
		default:
			if opts.Variant != nil {
				patch, hash, err := makeBinaryPatch(*opts.Variant, sdata, ddata)
				if err != nil {
					return fmt.Errorf("bindiff at %v: %w", c, err)
				}
				if err := insertAuxPatchRow(out, *opts.Variant, c, patch, hash); err != nil {
					return fmt.Errorf("writing bindiff row %v: %w", c, err)
				}
			} else if err := insertPatchRow(out, patchType, c, ddata, nil); err != nil {
				return fmt.Errorf("writing modification row %v: %w", c, err)
			}
		}
	}
	for c, ddata := range difTiles {
		if seen[c] {
			continue
		}
		if err := insertPatchRow(out, patchType, c, ddata, nil); err != nil {
			return fmt.Errorf("writing addition row %v: %w", c, err)
		}
	}

	srcHash, ok, err := readAliasedMetadataValue(out, "srcDb", AggTilesHashKey)
	if err != nil {
		return fmt.Errorf("reading source agg_tiles_hash: %w", err)
	}
	if ok {
		if err := StoreAggHash(out, "agg_tiles_hash_before_apply", srcHash); err != nil {
			return err
		}
	}
	difHash, ok, err := readAliasedMetadataValue(out, "difDb", AggTilesHashKey)
	if err != nil {
		return fmt.Errorf("reading dif agg_tiles_hash: %w", err)
	}
	if ok {
		if err := StoreAggHash(out, "agg_tiles_hash_after_apply", difHash); err != nil {
			return err
		}
	}

	patchSchema, err := DetectSchema(out)
	if err != nil {
		return fmt.Errorf("detecting patch schema: %w", err)
	}
	patchHash, err := ComputeAggHash(out, patchSchema)
	if err != nil {
		return fmt.Errorf("computing patch agg_tiles_hash: %w", err)
	}
	return StoreAggHash(out, AggTilesHashKey, patchHash)
}

func schemaOf(path string) (Schema, error) {
	h, err := Open(path, nil)
	if err != nil {
		return Schema{}, err
	}
	defer h.Close()
	return h.Schema, nil
}

func queryAllTiles(db *sql.DB, from attachedFrom) (map[Coord][]byte, error) {
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s`, from.zColumn, from.xColumn, from.yColumn, from.dataExpr, from.relation)
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Coord][]byte)
	for rows.Next() {
		var c Coord
		var data []byte
		if err := rows.Scan(&c.Z, &c.X, &c.Y, &data); err != nil {
			return nil, err
		}
		out[c] = data
	}
	return out, rows.Err()
}

func insertPatchRow(db *sql.DB, patchType SchemaType, c Coord, data []byte, hash *string) error {
	switch patchType {
	case Flat:
		_, err := db.Exec(`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`,
			c.Z, c.X, c.Y, data)
		return err
	case FlatWithHash:
		var hv interface{}
		if data != nil {
			if hash != nil {
				hv = *hash
			} else {
				sum := md5.Sum(data)
				hv = hex.EncodeToString(sum[:])
			}
		}
		_, err := db.Exec(`INSERT OR REPLACE INTO tiles_with_hash (zoom_level, tile_column, tile_row, tile_data, tile_hash) VALUES (?, ?, ?, ?, ?)`,
			c.Z, c.X, c.Y, data, hv)
		return err
	default: // Normalized
		if data == nil {
			_, err := db.Exec(`INSERT OR REPLACE INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, NULL)`, c.Z, c.X, c.Y)
			return err
		}
		sum := md5.Sum(data)
		tileID := hex.EncodeToString(sum[:])
		if _, err := db.Exec(`INSERT OR IGNORE INTO images (tile_id, tile_data) VALUES (?, ?)`, tileID, data); err != nil {
			return err
		}
		_, err := db.Exec(`INSERT OR REPLACE INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?)`, c.Z, c.X, c.Y, tileID)
		return err
	}
}

func insertAuxPatchRow(db *sql.DB, variant BindiffVariant, c Coord, patch []byte, hash uint64) error {
	table := variant.tableName()
	if _, err := db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (z INTEGER, x INTEGER, y INTEGER, patch_data BLOB, tile_xxh3 INTEGER, PRIMARY KEY (z, x, y))`, table)); err != nil {
		return err
	}
	_, err := db.Exec(fmt.Sprintf(`INSERT OR REPLACE INTO %s (z, x, y, patch_data, tile_xxh3) VALUES (?, ?, ?, ?, ?)`, table),
		c.Z, c.X, c.Y, patch, int64(hash))
	return err
}

func readAliasedMetadataValue(db *sql.DB, alias, key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM `+alias+`.metadata WHERE name = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

package mbtiles

import (
	"database/sql"
	"fmt"

	"github.com/tileserv/tileserv/internal/tileerr"
)

// ApplyOptions parameterizes Apply.
type ApplyOptions struct {
	BasePath, PatchPath, DstPath string
	Force                        bool // skip the before/after agg-hash checks
}

// Apply verifies the patch was generated against this exact base
// (agg_tiles_hash_before_apply), copies base
// tiles into dst overlaid with the patch's additions/modifications/
// deletions (reconstructing bindiff rows via bspatch + xxh3
// verification), then recomputes dst's agg_tiles_hash and checks it
// against the patch's recorded after-apply hash.
func Apply(opts ApplyOptions) error {
	baseSchema, err := schemaOf(opts.BasePath)
	if err != nil {
		return fmt.Errorf("reading base schema: %w", err)
	}
	patchSchema, err := schemaOf(opts.PatchPath)
	if err != nil {
		return fmt.Errorf("reading patch schema: %w", err)
	}

	dst, err := sql.Open(driverName, opts.DstPath)
	if err != nil {
		return fmt.Errorf("creating destination %s: %w", opts.DstPath, err)
	}
	defer dst.Close()

	if err := InitSchema(dst, baseSchema.Type); err != nil {
		return fmt.Errorf("initializing destination schema: %w", err)
	}

	if _, err := dst.Exec(fmt.Sprintf(`ATTACH DATABASE %s AS baseDb`, quoteLiteral(opts.BasePath))); err != nil {
		return fmt.Errorf("attaching base: %w", err)
	}
	defer dst.Exec(`DETACH DATABASE baseDb`)
	if _, err := dst.Exec(fmt.Sprintf(`ATTACH DATABASE %s AS patchDb`, quoteLiteral(opts.PatchPath))); err != nil {
		return fmt.Errorf("attaching patch: %w", err)
	}
	defer dst.Exec(`DETACH DATABASE patchDb`)

	baseHashNow, _, err := readAliasedMetadataValue(dst, "baseDb", AggTilesHashKey)
	if err != nil {
		return fmt.Errorf("reading base agg_tiles_hash: %w", err)
	}
	expectedBefore, hasExpected, err := readAliasedMetadataValue(dst, "patchDb", "agg_tiles_hash_before_apply")
	if err != nil {
		return fmt.Errorf("reading patch agg_tiles_hash_before_apply: %w", err)
	}
	if hasExpected && baseHashNow != expectedBefore && !opts.Force {
		return &tileerr.PatchMismatch{Expected: expectedBefore, Actual: baseHashNow}
	}

	baseFrom := attachedSource("baseDb", baseSchema)
	patchFrom := attachedSource("patchDb", patchSchema)

	baseTiles, err := queryAllTiles(dst, baseFrom)
	if err != nil {
		return fmt.Errorf("reading base tiles: %w", err)
	}
	patchTiles, err := queryAllTiles(dst, patchFrom)
	if err != nil {
		return fmt.Errorf("reading patch tiles: %w", err)
	}

	rawAux, rawgzAux, err := loadAuxPatchRows(dst)
	if err != nil {
		return fmt.Errorf("reading bindiff rows: %w", err)
	}

	for c, data := range baseTiles {
		final := data

		if pdata, inPatch := patchTiles[c]; inPatch {
			if pdata == nil {
				continue // deletion: do not emit
			}
			final = pdata
		}
		if row, ok := rawAux[c]; ok {
			final, err = applyBinaryPatch(BindiffRaw, data, row.patch, row.hash)
			if err != nil {
				return fmt.Errorf("applying bindiff at %v: %w", c, err)
			}
		}
		if row, ok := rawgzAux[c]; ok {
			final, err = applyBinaryPatch(BindiffRawGz, data, row.patch, row.hash)
			if err != nil {
				return fmt.Errorf("applying bindiff-gz at %v: %w", c, err)
			}
		}

		if err := insertPatchRow(dst, baseSchema.Type, c, final, nil); err != nil {
			return fmt.Errorf("writing tile %v: %w", c, err)
		}
	}

	// Additions: patch rows with data at coords base never had.
	for c, pdata := range patchTiles {
		if _, inBase := baseTiles[c]; inBase || pdata == nil {
			continue
		}
		if err := insertPatchRow(dst, baseSchema.Type, c, pdata, nil); err != nil {
			return fmt.Errorf("writing addition %v: %w", c, err)
		}
	}
	for c, row := range rawAux {
		if _, inBase := baseTiles[c]; inBase {
			continue
		}
		return fmt.Errorf("bindiff row %v has no base tile to patch (hash %x)", c, row.hash)
	}

	if baseSchema.Type == Normalized {
		if err := gcOrphanImages(dst); err != nil {
			return fmt.Errorf("collecting orphan images: %w", err)
		}
	}

	dstSchema, err := DetectSchema(dst)
	if err != nil {
		return fmt.Errorf("detecting destination schema: %w", err)
	}
	newHash, err := ComputeAggHash(dst, dstSchema)
	if err != nil {
		return fmt.Errorf("computing destination agg_tiles_hash: %w", err)
	}
	if err := StoreAggHash(dst, AggTilesHashKey, newHash); err != nil {
		return err
	}

	_, hasRawGz := firstAny(rawgzAux)
	expectedAfter, hasAfter, err := readAliasedMetadataValue(dst, "patchDb", "agg_tiles_hash_after_apply")
	if err != nil {
		return fmt.Errorf("reading patch agg_tiles_hash_after_apply: %w", err)
	}
	if hasAfter && !hasRawGz && newHash != expectedAfter && !opts.Force {
		return &tileerr.PatchMismatch{Expected: expectedAfter, Actual: newHash}
	}

	return copyMetadata(dst, "baseDb")
}

type auxPatchRow struct {
	patch []byte
	hash  uint64
}

func loadAuxPatchRows(db *sql.DB) (raw, rawgz map[Coord]auxPatchRow, err error) {
	raw, err = loadAuxTable(db, BindiffRaw.tableName())
	if err != nil {
		return nil, nil, err
	}
	rawgz, err = loadAuxTable(db, BindiffRawGz.tableName())
	if err != nil {
		return nil, nil, err
	}
	return raw, rawgz, nil
}

func loadAuxTable(db *sql.DB, table string) (map[Coord]auxPatchRow, error) {
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM patchDb.sqlite_schema WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
		return nil, err
	}
	out := make(map[Coord]auxPatchRow)
	if n == 0 {
		return out, nil
	}
	rows, err := db.Query(`SELECT z, x, y, patch_data, tile_xxh3 FROM patchDb.` + table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c Coord
		var patch []byte
		var hash int64
		if err := rows.Scan(&c.Z, &c.X, &c.Y, &patch, &hash); err != nil {
			return nil, err
		}
		out[c] = auxPatchRow{patch: patch, hash: uint64(hash)}
	}
	return out, rows.Err()
}

func firstAny(m map[Coord]auxPatchRow) (Coord, bool) {
	for k := range m {
		return k, true
	}
	return Coord{}, false
}

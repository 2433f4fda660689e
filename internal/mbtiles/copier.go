package mbtiles

import (
	"database/sql"
	"fmt"
	"strings"
)

// DuplicateMode controls how the destination table's UNIQUE(z,x,y)
// constraint is handled when copying.
type DuplicateMode int

const (
	DuplicateOverride DuplicateMode = iota // OR REPLACE
	DuplicateIgnore                        // OR IGNORE
	DuplicateAbort                         // OR ABORT; Flat/FlatWithHash destinations skip same-data duplicates (see withAbortGuard)
)

func (m DuplicateMode) sqlVerb() string {
	switch m {
	case DuplicateOverride:
		return "OR REPLACE"
	case DuplicateIgnore:
		return "OR IGNORE"
	default:
		return "OR ABORT"
	}
}

// BBox is a WGS84 bounding box (minlon, minlat, maxlon, maxlat).
type BBox [4]float64

// CopyOptions parameterizes Copy.
type CopyOptions struct {
	SrcPath, DstPath string
	ZoomLevels       []int // explicit list, overrides MinZoom/MaxZoom when both given
	MinZoom, MaxZoom *int
	BoundingBoxes    []BBox
	DstType          *SchemaType // nil = infer (dst's existing type, else src's type)
	Duplicate        DuplicateMode
	ComputeAggHash   bool
}

// Copy attaches src+dst, materializes dst's schema if new, emits one
// INSERT-SELECT per destination table shaped by the requested filters
// and duplicate policy, copies metadata (skipping the reserved agg-hash
// keys), and optionally recomputes agg_tiles_hash.
func Copy(opts CopyOptions) error {
	srcHandle, err := Open(opts.SrcPath, nil)
	if err != nil {
		return fmt.Errorf("opening source %s: %w", opts.SrcPath, err)
	}
	srcSchema := srcHandle.Schema
	srcHandle.Close()

	dst, err := sql.Open(driverName, opts.DstPath)
	if err != nil {
		return fmt.Errorf("opening destination %s: %w", opts.DstPath, err)
	}
	defer dst.Close()

	dstExists, existingType, err := probeExistingSchema(dst)
	if err != nil {
		return err
	}

	dstType, err := resolveDstType(opts.DstType, dstExists, existingType, srcSchema.Type)
	if err != nil {
		return err
	}

	if _, err := dst.Exec(fmt.Sprintf(`ATTACH DATABASE %s AS sourceDb`, quoteLiteral(opts.SrcPath))); err != nil {
		return fmt.Errorf("attaching source: %w", err)
	}
	defer dst.Exec(`DETACH DATABASE sourceDb`)

	if !dstExists {
		if err := InitSchema(dst, dstType); err != nil {
			return fmt.Errorf("initializing destination schema: %w", err)
		}
	}

	srcFrom := attachedSource("sourceDb", srcSchema)
	where := buildWhereClause(opts.ZoomLevels, opts.MinZoom, opts.MaxZoom, opts.BoundingBoxes, srcFrom.zColumn)

	insertSQL := buildCopyInsert(dstType, srcSchema.Type, srcFrom, opts.Duplicate, where)
	if _, err := dst.Exec(insertSQL); err != nil {
		return fmt.Errorf("copying tiles: %w", err)
	}

	if err := copyMetadata(dst, "sourceDb"); err != nil {
		return fmt.Errorf("copying metadata: %w", err)
	}

	if opts.ComputeAggHash {
		dstSchemaAfter := Schema{Type: dstType}
		// A freshly-created Normalized dst may or may not have the hash
		// view; InitSchema always creates it, so detect for real.
		if detected, derr := DetectSchema(dst); derr == nil {
			dstSchemaAfter = detected
		}
		hash, err := ComputeAggHash(dst, dstSchemaAfter)
		if err != nil {
			return fmt.Errorf("computing agg_tiles_hash: %w", err)
		}
		if err := StoreAggHash(dst, AggTilesHashKey, hash); err != nil {
			return err
		}
	}

	return nil
}

func probeExistingSchema(db *sql.DB) (exists bool, schema Schema, err error) {
	var n int
	if err = db.QueryRow(`SELECT count(*) FROM sqlite_schema WHERE type='table' AND name='metadata'`).Scan(&n); err != nil {
		return false, Schema{}, err
	}
	if n == 0 {
		return false, Schema{}, nil
	}
	schema, err = DetectSchema(db)
	return true, schema, err
}

// resolveDstType picks the destination schema type: if dst is empty,
// either the user-specified type or src's type; else dst's existing
// type — a user override must match the existing type or the copy
// aborts.
func resolveDstType(override *SchemaType, dstExists bool, existing Schema, srcType SchemaType) (SchemaType, error) {
	if !dstExists {
		if override != nil {
			return *override, nil
		}
		return srcType, nil
	}
	if override != nil && *override != existing.Type {
		return 0, fmt.Errorf("destination already exists with schema %s, cannot override to %s", existing.Type, *override)
	}
	return existing.Type, nil
}

// attachedFrom describes the source relation and its column names once
// qualified by an attached-database alias.
type attachedFrom struct {
	relation string // e.g. "sourceDb.tiles" or "sourceDb.map JOIN sourceDb.images ON ..."
	zColumn, xColumn, yColumn, dataExpr, idExpr string
}

func attachedSource(alias string, schema Schema) attachedFrom {
	switch schema.Type {
	case FlatWithHash:
		return attachedFrom{
			relation: alias + ".tiles_with_hash",
			zColumn: "zoom_level", xColumn: "tile_column", yColumn: "tile_row",
			dataExpr: "tile_data", idExpr: "tile_hash",
		}
	case Normalized:
		// LEFT JOIN, not JOIN: a deletion row written by insertPatchRow
		// stores map.tile_id = NULL, which an inner join can never match.
		// The left join keeps that map row with dataExpr reading back as
		// NULL, so queryAllTiles still sees the deletion.
		return attachedFrom{
			relation: alias + ".map LEFT JOIN " + alias + ".images ON " + alias + ".map.tile_id = " + alias + ".images.tile_id",
			zColumn: alias + ".map.zoom_level", xColumn: alias + ".map.tile_column", yColumn: alias + ".map.tile_row",
			dataExpr: alias + ".images.tile_data", idExpr: alias + ".map.tile_id",
		}
	default:
		return attachedFrom{
			relation: alias + ".tiles",
			zColumn: "zoom_level", xColumn: "tile_column", yColumn: "tile_row",
			dataExpr: "tile_data", idExpr: "",
		}
	}
}

func buildWhereClause(zoomLevels []int, minZoom, maxZoom *int, bboxes []BBox, zCol string) string {
	var parts []string
	switch {
	case len(zoomLevels) > 0:
		strs := make([]string, len(zoomLevels))
		for i, z := range zoomLevels {
			strs[i] = fmt.Sprintf("%d", z)
		}
		parts = append(parts, fmt.Sprintf("%s IN (%s)", zCol, strings.Join(strs, ",")))
	case minZoom != nil || maxZoom != nil:
		if minZoom != nil {
			parts = append(parts, fmt.Sprintf("%s >= %d", zCol, *minZoom))
		}
		if maxZoom != nil {
			parts = append(parts, fmt.Sprintf("%s <= %d", zCol, *maxZoom))
		}
	}

	// Bounding-box filtering converts each box into a numeric
	// tile_column/tile_row range on the TMS Web-Mercator grid of each
	// row's own zoom (see bboxToTileRangeSQL); the trig runs in Go, so
	// the SQL only compares integers.
	if len(bboxes) > 0 {
		var boxParts []string
		for _, b := range bboxes {
			boxParts = append(boxParts, bboxToTileRangeSQL(b, zCol))
		}
		parts = append(parts, "("+strings.Join(boxParts, " OR ")+")")
	}

	if len(parts) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(parts, " AND ")
}

func buildCopyInsert(dstType, srcType SchemaType, src attachedFrom, dup DuplicateMode, where string) string {
	verb := dup.sqlVerb()
	switch dstType {
	case Flat:
		selectCols := fmt.Sprintf("%s, %s, %s, %s", src.zColumn, src.xColumn, src.yColumn, src.dataExpr)
		insert := fmt.Sprintf(`INSERT %s INTO tiles (zoom_level, tile_column, tile_row, tile_data)
			SELECT %s FROM %s %s`, verb, selectCols, src.relation, where)
		return withAbortGuard(insert, dup, "tiles", src, where)
	case FlatWithHash:
		hashExpr := src.idExpr
		if srcType != FlatWithHash && srcType != Normalized {
			hashExpr = "md5_hex(" + src.dataExpr + ")"
		}
		selectCols := fmt.Sprintf("%s, %s, %s, %s, %s", src.zColumn, src.xColumn, src.yColumn, src.dataExpr, hashExpr)
		insert := fmt.Sprintf(`INSERT %s INTO tiles_with_hash (zoom_level, tile_column, tile_row, tile_data, tile_hash)
			SELECT %s FROM %s %s`, verb, selectCols, src.relation, where)
		return withAbortGuard(insert, dup, "tiles_with_hash", src, where)
	default: // Normalized
		tileID := src.idExpr
		if srcType != Normalized {
			tileID = "md5_hex(" + src.dataExpr + ")"
		}
		// No withAbortGuard here: with DuplicateAbort, any already
		// occupied map key aborts, whether or not its tile is identical.
		mapInsert := fmt.Sprintf(`INSERT %s INTO map (zoom_level, tile_column, tile_row, tile_id)
			SELECT %s, %s, %s, %s FROM %s %s;
			INSERT OR IGNORE INTO images (tile_id, tile_data)
			SELECT DISTINCT %s, %s FROM %s %s`,
			verb, src.zColumn, src.xColumn, src.yColumn, tileID, src.relation, where,
			tileID, src.dataExpr, src.relation, where)
		return mapInsert
	}
}

// withAbortGuard handles the OR ABORT nuance: ABORT must only fail on a
// *conflicting* duplicate (same z,x,y, different bytes) — not merely
// because the same data was copied twice. When the duplicate mode is
// Abort, append a NOT EXISTS self-join that only lets the row through
// if no identical row (same key, same bytes) already occupies
// that key; SQLite's own PRIMARY KEY constraint then raises the abort
// for genuinely conflicting duplicates while ones matching exactly are
// silently skipped by the NOT EXISTS guard before constraint evaluation.
// Used for the Flat and FlatWithHash destinations only.
func withAbortGuard(insert string, dup DuplicateMode, dstTable string, src attachedFrom, where string) string {
	if dup != DuplicateAbort {
		return insert
	}
	// Unqualified source columns would resolve to d inside the subquery,
	// so qualify them with the source relation.
	qual := func(col string) string {
		if strings.Contains(col, ".") {
			return col
		}
		return src.relation + "." + col
	}
	notExists := fmt.Sprintf(
		`AND NOT EXISTS (SELECT 1 FROM %s d WHERE d.zoom_level = %s AND d.tile_column = %s AND d.tile_row = %s AND d.tile_data = %s)`,
		dstTable, qual(src.zColumn), qual(src.xColumn), qual(src.yColumn), qual(src.dataExpr))
	if where == "" {
		return insert + " WHERE 1=1 " + notExists
	}
	return insert + " " + notExists
}

func copyMetadata(dst *sql.DB, alias string) error {
	rows, err := dst.Query(`SELECT name, value FROM ` + alias + `.metadata`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var pairs [][2]string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		if reservedAggHashKeys[name] {
			continue
		}
		pairs = append(pairs, [2]string{name, value})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range pairs {
		if _, err := dst.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`, p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

package pg

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BoundsMode selects how a table source's TileJSON bounds are computed
// at discovery time.
type BoundsMode int

const (
	BoundsQuick BoundsMode = iota // default: Calc under a soft deadline
	BoundsSkip                    // world bounds, no query
	BoundsCalc                    // ST_Extent, no deadline
)

// boundsQuickDeadline is the soft timeout BoundsQuick wraps Calc in.
const boundsQuickDeadline = 5 * time.Second

// WorldBounds is the bounds value BoundsSkip (and a BoundsQuick timeout)
// falls back to.
var WorldBounds = [4]float64{-180, -85.05112878, 180, 85.05112878}

// CalcBounds computes table's geometry extent in 4326, expanding a
// single-point table by 1 unit in each direction before transforming
// (ST_Extent on a degenerate point-bounding-box would otherwise produce
// a zero-area envelope).
func CalcBounds(ctx context.Context, pool *Pool, table TableInfo) ([4]float64, error) {
	conn, err := pool.Acquire(ctx, "calc_bounds")
	if err != nil {
		return WorldBounds, err
	}
	defer conn.Release()

	geomCol := QuoteIdent(table.GeometryColumn)
	qualified := QuoteIdent(table.Schema) + "." + QuoteIdent(table.Table)
	query := fmt.Sprintf(`
SELECT ST_XMin(e), ST_YMin(e), ST_XMax(e), ST_YMax(e)
FROM (
  SELECT ST_Transform(
    CASE WHEN ST_XMin(ext) = ST_XMax(ext) AND ST_YMin(ext) = ST_YMax(ext)
      THEN ST_Expand(ext, 1)
      ELSE ext
    END, %d) AS e
  FROM (SELECT ST_Extent(%s) AS ext FROM %s) box
) bounds`, WGS84SRID, geomCol, qualified)

	var b [4]float64
	row := conn.QueryRow(ctx, query)
	if err := row.Scan(&b[0], &b[1], &b[2], &b[3]); err != nil {
		return WorldBounds, fmt.Errorf("calculating bounds for %s.%s: %w", table.Schema, table.Table, err)
	}
	return b, nil
}

// ResolveBounds applies mode, falling back to WorldBounds and a logged
// warning if BoundsQuick's deadline is exceeded.
func ResolveBounds(ctx context.Context, pool *Pool, table TableInfo, mode BoundsMode, logger *zap.Logger) [4]float64 {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch mode {
	case BoundsSkip:
		return WorldBounds
	case BoundsCalc:
		b, err := CalcBounds(ctx, pool, table)
		if err != nil {
			logger.Warn("bounds calculation failed, using world bounds",
				zap.String("table", table.Schema+"."+table.Table), zap.Error(err))
			return WorldBounds
		}
		return b
	default: // BoundsQuick
		deadlineCtx, cancel := context.WithTimeout(ctx, boundsQuickDeadline)
		defer cancel()
		b, err := CalcBounds(deadlineCtx, pool, table)
		if err != nil {
			logger.Warn("bounds calculation timed out or failed, using world bounds",
				zap.String("table", table.Schema+"."+table.Table), zap.Error(err))
			return WorldBounds
		}
		return b
	}
}

// int2LikeTypes are the Postgres integer type names InferIDColumn will
// accept for a candidate id column.
var int2LikeTypes = map[string]bool{
	"smallint": true, "integer": true, "bigint": true,
	"int2": true, "int4": true, "int8": true,
}

// InferIDColumn looks up each candidate name case-insensitively among
// table's columns, accepting the first whose type is an integer family,
// removing it from Columns (so it isn't duplicated as an MVT property)
// and setting IDColumn. If none match, IDColumn stays empty.
func InferIDColumn(table *TableInfo, candidates []string) {
	lower := make(map[string]string, len(table.Columns)) // lowercased name -> actual name
	for name := range table.Columns {
		lower[toLower(name)] = name
	}
	for _, candidate := range candidates {
		actual, ok := lower[toLower(candidate)]
		if !ok {
			continue
		}
		typ := table.Columns[actual]
		if !int2LikeTypes[typ] {
			continue
		}
		table.IDColumn = actual
		delete(table.Columns, actual)
		return
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

package pg

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultExtent   = 4096
	DefaultBuffer   = 64
	WebMercatorSRID = 3857
	WGS84SRID       = 4326
	earthCircumference = 40075016.6855785
)

// QuoteIdent renders name as a double-quoted SQL identifier, doubling
// any embedded quote the way Postgres's own quote_ident does.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral renders s as a single-quoted SQL string literal, doubling
// any embedded quote.
func QuoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// TableQuerySpec parameterizes BuildTableQuery.
type TableQuerySpec struct {
	Table        TableInfo
	SourceLayer  string // MVT layer name; defaults to Table.Table
	Extent       int    // 0 = DefaultExtent
	Buffer       int    // 0 = DefaultBuffer
	ClipGeom     bool
	MaxFeatures  int // 0 = unlimited
	PostGIS31Plus bool
	Properties   []string // column names to select as MVT attributes (id column excluded by caller)
}

// BuildTableQuery renders the single prepared SELECT a TableSource runs
// per tile request: ST_AsMVTGeom over a bbox-filtered subquery, wrapped
// in ST_AsMVT. Parameters are always $1=z, $2=x, $3=y.
func BuildTableQuery(spec TableQuerySpec) string {
	extent := spec.Extent
	if extent == 0 {
		extent = DefaultExtent
	}
	buffer := spec.Buffer
	if buffer == 0 {
		buffer = DefaultBuffer
	}
	layer := spec.SourceLayer
	if layer == "" {
		layer = spec.Table.Table
	}

	var idSelect, idArg string
	if spec.Table.IDColumn != "" {
		idSelect = fmt.Sprintf(",\n    %s AS %s", QuoteIdent(spec.Table.IDColumn), QuoteIdent(spec.Table.IDColumn))
		idArg = ", " + QuoteLiteral(spec.Table.IDColumn)
	}

	var propSelect strings.Builder
	for _, p := range spec.Properties {
		fmt.Fprintf(&propSelect, ",\n    %s", QuoteIdent(p))
	}

	limitClause := ""
	if spec.MaxFeatures > 0 {
		limitClause = fmt.Sprintf("\n  LIMIT %d", spec.MaxFeatures)
	}

	bboxExpr := bboxExprFor(spec.Table.SRID, buffer, extent, spec.PostGIS31Plus)

	geomCol := QuoteIdent(spec.Table.GeometryColumn)
	qualifiedTable := QuoteIdent(spec.Table.Schema) + "." + QuoteIdent(spec.Table.Table)
	clipGeom := "true"
	if !spec.ClipGeom {
		clipGeom = "false"
	}

	return fmt.Sprintf(`SELECT ST_AsMVT(tile, %s, %d, 'geom'%s)
FROM (
  SELECT
    ST_AsMVTGeom(
      ST_Transform(ST_CurveToLine(%s::geometry), %d),
      ST_TileEnvelope($1, $2, $3),
      %d, %d, %s) AS geom%s%s
  FROM %s
  WHERE %s && %s%s
) tile;`,
		QuoteLiteral(layer), extent, idArg,
		geomCol, WebMercatorSRID,
		extent, buffer, clipGeom, idSelect, propSelect.String(),
		qualifiedTable,
		geomCol, bboxExpr, limitClause)
}

// bboxExprFor picks the <bbox_expr> form by SRID and PostGIS version:
// a zero-buffer fast path, the PostGIS 3.1+ margin-aware TileEnvelope
// for native Web Mercator data, an explicit degree-expansion for 4326
// (to avoid clipping across the antimeridian), and a plain fallback
// otherwise that may clip slightly at tile edges.
func bboxExprFor(srid, buffer, extent int, postgis31Plus bool) string {
	tileEnvelope := "ST_TileEnvelope($1, $2, $3)"

	if buffer == 0 {
		if srid == WebMercatorSRID {
			return tileEnvelope
		}
		return fmt.Sprintf("ST_Transform(%s, %d)", tileEnvelope, srid)
	}

	if postgis31Plus && srid == WebMercatorSRID {
		margin := float64(buffer) / float64(extent)
		return fmt.Sprintf("ST_TileEnvelope($1, $2, $3, margin => %s)", strconv.FormatFloat(margin, 'g', -1, 64))
	}

	if srid == WGS84SRID {
		return fmt.Sprintf(
			"ST_Expand(ST_Transform(%s, %d), (%d::float8 / %d) * %s / POWER(2, $1))",
			tileEnvelope, srid, buffer, extent, strconv.FormatFloat(earthCircumference, 'g', -1, 64))
	}

	return fmt.Sprintf("ST_Transform(%s, %d)", tileEnvelope, srid)
}

// FunctionQuerySpec parameterizes BuildFunctionQuery.
type FunctionQuerySpec struct {
	Function FunctionInfo
}

// BuildFunctionQuery renders the SELECT a FunctionSource runs per tile
// request. Parameters are $1=z, $2=x, $3=y and, if the function accepts
// a query argument, $4=json.
func BuildFunctionQuery(spec FunctionQuerySpec) string {
	qualified := QuoteIdent(spec.Function.Schema) + "." + QuoteIdent(spec.Function.Function)
	if spec.Function.HasQueryArg {
		return fmt.Sprintf("SELECT %s($1, $2, $3, $4)", qualified)
	}
	return fmt.Sprintf("SELECT %s($1, $2, $3)", qualified)
}

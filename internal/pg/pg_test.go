package pg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteIdentAndLiteral(t *testing.T) {
	require.Equal(t, `"simple"`, QuoteIdent("simple"))
	require.Equal(t, `"has""quote"`, QuoteIdent(`has"quote`))
	require.Equal(t, `'it''s'`, QuoteLiteral("it's"))
}

func TestBboxExprForZeroBufferWebMercator(t *testing.T) {
	expr := bboxExprFor(WebMercatorSRID, 0, DefaultExtent, false)
	require.Equal(t, "ST_TileEnvelope($1, $2, $3)", expr)
}

func TestBboxExprForZeroBufferOtherSRID(t *testing.T) {
	expr := bboxExprFor(WGS84SRID, 0, DefaultExtent, false)
	require.Contains(t, expr, "ST_Transform(ST_TileEnvelope($1, $2, $3), 4326)")
}

func TestBboxExprForPostGIS31PlusWebMercator(t *testing.T) {
	expr := bboxExprFor(WebMercatorSRID, 64, 4096, true)
	require.Contains(t, expr, "margin =>")
}

func TestBboxExprForWGS84WithBuffer(t *testing.T) {
	expr := bboxExprFor(WGS84SRID, 64, 4096, true)
	require.Contains(t, expr, "ST_Expand")
	require.Contains(t, expr, "POWER(2, $1)")
}

func TestBboxExprFallsBackForOtherSRIDWithBuffer(t *testing.T) {
	expr := bboxExprFor(2154, 64, 4096, true)
	require.Equal(t, "ST_Transform(ST_TileEnvelope($1, $2, $3), 2154)", expr)
}

func TestBuildTableQueryIncludesIDColumnAndProperties(t *testing.T) {
	table := TableInfo{
		Schema: "public", Table: "roads", GeometryColumn: "geom",
		SRID: WebMercatorSRID, IDColumn: "gid",
	}
	spec := TableQuerySpec{
		Table:      table,
		Properties: []string{"name", "kind"},
		ClipGeom:   true,
	}
	query := BuildTableQuery(spec)
	require.Contains(t, query, `"gid" AS "gid"`)
	require.Contains(t, query, `'gid'`)
	require.Contains(t, query, `"name"`)
	require.Contains(t, query, `"kind"`)
	require.Contains(t, query, `"public"."roads"`)
	require.Contains(t, query, "ST_AsMVTGeom")
	require.Contains(t, query, "ST_AsMVT(tile, 'roads', 4096")
}

func TestBuildTableQueryRespectsMaxFeatures(t *testing.T) {
	spec := TableQuerySpec{
		Table:       TableInfo{Schema: "public", Table: "pts", GeometryColumn: "geom", SRID: WebMercatorSRID},
		MaxFeatures: 10000,
	}
	query := BuildTableQuery(spec)
	require.Contains(t, query, "LIMIT 10000")
}

func TestBuildFunctionQueryWithAndWithoutQueryArg(t *testing.T) {
	plain := BuildFunctionQuery(FunctionQuerySpec{Function: FunctionInfo{Schema: "public", Function: "get_tile"}})
	require.Equal(t, `SELECT "public"."get_tile"($1, $2, $3)`, plain)

	withQuery := BuildFunctionQuery(FunctionQuerySpec{Function: FunctionInfo{Schema: "public", Function: "get_tile", HasQueryArg: true}})
	require.Equal(t, `SELECT "public"."get_tile"($1, $2, $3, $4)`, withQuery)
}

func TestInferIDColumnAcceptsIntegerTypesCaseInsensitively(t *testing.T) {
	table := TableInfo{Columns: map[string]string{
		"GID": "integer", "name": "text",
	}}
	InferIDColumn(&table, []string{"gid", "id"})
	require.Equal(t, "GID", table.IDColumn)
	_, stillPresent := table.Columns["GID"]
	require.False(t, stillPresent)
}

func TestInferIDColumnRejectsNonIntegerType(t *testing.T) {
	table := TableInfo{Columns: map[string]string{"id": "text"}}
	InferIDColumn(&table, []string{"id"})
	require.Empty(t, table.IDColumn)
}

func TestInferIDColumnNoMatchLeavesEmpty(t *testing.T) {
	table := TableInfo{Columns: map[string]string{"name": "text"}}
	InferIDColumn(&table, []string{"gid", "id"})
	require.Empty(t, table.IDColumn)
}

func TestResolvePublishDefaultsToBothWhenUnconfigured(t *testing.T) {
	r := ResolvePublish(AutoPublish{})
	require.True(t, r.PublishTables)
	require.True(t, r.PublishFunctions)
}

func TestResolvePublishExplicitlyDisabled(t *testing.T) {
	f := false
	r := ResolvePublish(AutoPublish{Enabled: &f})
	require.False(t, r.PublishTables)
	require.False(t, r.PublishFunctions)
}

func TestResolvePublishExplicitlyEnabledBothOn(t *testing.T) {
	tr := true
	r := ResolvePublish(AutoPublish{Enabled: &tr})
	require.True(t, r.PublishTables)
	require.True(t, r.PublishFunctions)
}

func TestResolvePublishOneSideConfiguredDisablesOther(t *testing.T) {
	r := ResolvePublish(AutoPublish{Tables: &PublishTables{FromSchemas: []string{"public"}}})
	require.True(t, r.PublishTables)
	require.False(t, r.PublishFunctions)
}

func TestFormatTableSourceIDSubstitutesPlaceholders(t *testing.T) {
	id := FormatTableSourceID("{schema}.{table}", TableInfo{Schema: "public", Table: "roads", GeometryColumn: "geom"})
	require.Equal(t, "public.roads", id)
}

func TestFormatFunctionSourceIDSubstitutesPlaceholders(t *testing.T) {
	id := FormatFunctionSourceID("{schema}_{function}", FunctionInfo{Schema: "public", Function: "get_tile"})
	require.Equal(t, "public_get_tile", id)
}

func TestQueryToJSONParsesNumbersAndBooleans(t *testing.T) {
	raw, err := queryToJSON(map[string]string{"limit": "10", "active": "true", "label": "hello"})
	require.NoError(t, err)
	require.Contains(t, string(raw), `"limit":10`)
	require.Contains(t, string(raw), `"active":true`)
	require.Contains(t, string(raw), `"label":"hello"`)
}

func TestParsePostGISMajorMinor(t *testing.T) {
	major, minor, ok := parsePostGISMajorMinor(`POSTGIS="3.3.2" [EXTENSION]`)
	require.True(t, ok)
	require.Equal(t, 3, major)
	require.Equal(t, 3, minor)
}

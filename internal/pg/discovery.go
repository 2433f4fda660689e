package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TableInfo describes one auto-discovered geometry table or view.
type TableInfo struct {
	Schema          string
	Table           string
	GeometryColumn  string
	SRID            int
	GeometryType    string
	IsView          bool
	GeomIndexExists bool
	Columns         map[string]string // column name -> pg type name
	IDColumn        string            // set by InferIDColumn, empty until then
	TileJSONPatch   string            // raw JSON from a table comment, if any
}

// FunctionInfo describes one auto-discovered tile function.
type FunctionInfo struct {
	Schema      string
	Function    string
	HasQueryArg bool // true for the (z,x,y,json) -> bytea overload
}

const discoverTablesSQL = `
SELECT
  n.nspname AS schema,
  c.relname AS table_name,
  a.attname AS geom_column,
  COALESCE(NULLIF(postgis_typmod_srid(a.atttypmod), 0), COALESCE(gc.srid, 0)) AS srid,
  COALESCE(postgis_typmod_type(a.atttypmod), gc.type, 'GEOMETRY') AS geom_type,
  c.relkind = 'v' AS is_view,
  EXISTS (
    SELECT 1 FROM pg_index i
    JOIN pg_am am ON am.oid = (SELECT relam FROM pg_class WHERE oid = i.indexrelid)
    WHERE i.indrelid = c.oid AND am.amname = 'gist'
      AND a.attnum = ANY(i.indkey)
  ) AS geom_index_exists,
  obj_description(c.oid, 'pg_class') AS table_comment
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid AND NOT a.attisdropped
JOIN pg_type t ON t.oid = a.atttypid AND t.typname = 'geometry'
LEFT JOIN geometry_columns gc ON gc.f_table_schema = n.nspname
  AND gc.f_table_name = c.relname AND gc.f_geometry_column = a.attname
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname = ANY($1)
ORDER BY schema, table_name, geom_column`

const discoverColumnsSQL = `
SELECT a.attname, format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped`

// DiscoverTables enumerates geometry tables/views/materialized views in
// the given schemas, each with its own geometry_column/srid/type and
// full column map. A geometry column lacking a GIST index is returned
// as-is (GeomIndexExists=false); callers are expected to log a warning
// for any non-view table in that state.
func DiscoverTables(ctx context.Context, pool *Pool, schemas []string) ([]TableInfo, error) {
	conn, err := pool.Acquire(ctx, "discover_tables")
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, discoverTablesSQL, schemas)
	if err != nil {
		return nil, fmt.Errorf("discovering tables: %w", err)
	}
	defer rows.Close()

	var out []TableInfo
	for rows.Next() {
		var t TableInfo
		var comment *string
		if err := rows.Scan(&t.Schema, &t.Table, &t.GeometryColumn, &t.SRID, &t.GeometryType,
			&t.IsView, &t.GeomIndexExists, &comment); err != nil {
			return nil, fmt.Errorf("scanning table row: %w", err)
		}
		if comment != nil {
			t.TileJSONPatch = *comment
		}
		cols, err := discoverColumns(ctx, conn, t.Schema, t.Table)
		if err != nil {
			return nil, err
		}
		t.Columns = cols
		out = append(out, t)
	}
	return out, rows.Err()
}

func discoverColumns(ctx context.Context, conn *pgxpool.Conn, schema, table string) (map[string]string, error) {
	rows, err := conn.Query(ctx, discoverColumnsSQL, schema, table)
	if err != nil {
		return nil, fmt.Errorf("discovering columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("scanning column row for %s.%s: %w", schema, table, err)
		}
		cols[name] = typ
	}
	return cols, rows.Err()
}

const discoverFunctionsSQL = `
SELECT n.nspname, p.proname,
  p.pronargs = 4 AS has_query_arg
FROM pg_proc p
JOIN pg_namespace n ON n.oid = p.pronamespace
JOIN pg_type rt ON rt.oid = p.prorettype AND rt.typname = 'bytea'
WHERE n.nspname = ANY($1)
  AND (
    (p.pronargs = 3
      AND p.proargtypes[0] = 'int4'::regtype AND p.proargtypes[1] = 'int4'::regtype AND p.proargtypes[2] = 'int4'::regtype)
    OR
    (p.pronargs = 4
      AND p.proargtypes[0] = 'int4'::regtype AND p.proargtypes[1] = 'int4'::regtype
      AND p.proargtypes[2] = 'int4'::regtype AND p.proargtypes[3] = 'json'::regtype)
  )
ORDER BY n.nspname, p.proname`

// DiscoverFunctions enumerates functions shaped (int,int,int)->bytea or
// (int,int,int,json)->bytea in the given schemas — the two signatures a
// tile function may have.
func DiscoverFunctions(ctx context.Context, pool *Pool, schemas []string) ([]FunctionInfo, error) {
	conn, err := pool.Acquire(ctx, "discover_functions")
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, discoverFunctionsSQL, schemas)
	if err != nil {
		return nil, fmt.Errorf("discovering functions: %w", err)
	}
	defer rows.Close()

	var out []FunctionInfo
	for rows.Next() {
		var f FunctionInfo
		if err := rows.Scan(&f.Schema, &f.Function, &f.HasQueryArg); err != nil {
			return nil, fmt.Errorf("scanning function row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

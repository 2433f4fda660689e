package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tileserv/tileserv/internal/tileerr"
	"github.com/tileserv/tileserv/internal/tileset"
)

// TableSource serves tiles from one auto-discovered (or explicitly
// configured) geometry table via a single prepared ST_AsMVT query.
type TableSource struct {
	id       string
	pool     *Pool
	table    TableInfo
	query    string
	tilejson tileset.TileJSON
}

// NewTableSource builds a TableSource, rendering its query once up front
// rather than per tile. The query is not checked against the database
// here; a broken table definition surfaces on the first GetTile.
func NewTableSource(id string, pool *Pool, table TableInfo, spec TableQuerySpec, minZoom, maxZoom int, bounds [4]float64) *TableSource {
	spec.Table = table
	query := BuildTableQuery(spec)
	tj := tileset.TileJSON{
		TileJSON: "3.0.0",
		Name:     id,
		MinZoom:  minZoom,
		MaxZoom:  maxZoom,
		Bounds:   bounds,
		VectorLayers: []tileset.VectorLayer{{
			ID:     spec.SourceLayer,
			Fields: table.Columns,
		}},
	}
	if tj.VectorLayers[0].ID == "" {
		tj.VectorLayers[0].ID = table.Table
	}
	applyTileJSONPatch(&tj, table.TileJSONPatch)

	return &TableSource{id: id, pool: pool, table: table, query: query, tilejson: tj}
}

func (s *TableSource) ID() string                { return s.id }
func (s *TableSource) TileJSON() tileset.TileJSON { return s.tilejson }
func (s *TableSource) TileInfo() tileset.Info {
	return tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity}
}
func (s *TableSource) SupportsURLQuery() bool             { return false }
func (s *TableSource) BenefitsFromConcurrentScraping() bool { return false } // shares one pool; fan-out just contends for connections

// GetTile runs the prepared query for (z,x,y). An empty (not nil)
// result from ST_AsMVT is a valid "no features in this tile" response,
// reported as Tile.Empty() rather than an error.
func (s *TableSource) GetTile(ctx context.Context, z, x, y int, _ map[string]string) (tileset.Tile, error) {
	if !tileset.ValidCoord(z, x, y) {
		return tileset.Tile{}, &tileerr.BadCoordinate{Z: z, X: x, Y: y, Reason: "out of pyramid range"}
	}
	conn, err := s.pool.Acquire(ctx, "get_tile:"+s.id)
	if err != nil {
		return tileset.Tile{}, err
	}
	defer conn.Release()

	var data []byte
	if err := conn.QueryRow(ctx, s.query, z, x, y).Scan(&data); err != nil {
		return tileset.Tile{}, &tileerr.Backend{Source: s.id, Cause: err}
	}
	return tileset.Tile{Data: data, Info: s.TileInfo()}, nil
}

// FunctionSource serves tiles from an auto-discovered PostgreSQL
// function of signature (int,int,int)->bytea or (int,int,int,json)->bytea.
type FunctionSource struct {
	id       string
	pool     *Pool
	fn       FunctionInfo
	query    string
	tilejson tileset.TileJSON
}

// NewFunctionSource builds a FunctionSource.
func NewFunctionSource(id string, pool *Pool, fn FunctionInfo, minZoom, maxZoom int, bounds [4]float64) *FunctionSource {
	return &FunctionSource{
		id:   id,
		pool: pool,
		fn:   fn,
		query: BuildFunctionQuery(FunctionQuerySpec{Function: fn}),
		tilejson: tileset.TileJSON{
			TileJSON: "3.0.0",
			Name:     id,
			MinZoom:  minZoom,
			MaxZoom:  maxZoom,
			Bounds:   bounds,
		},
	}
}

func (s *FunctionSource) ID() string                { return s.id }
func (s *FunctionSource) TileJSON() tileset.TileJSON { return s.tilejson }
func (s *FunctionSource) TileInfo() tileset.Info {
	return tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity}
}
func (s *FunctionSource) SupportsURLQuery() bool             { return s.fn.HasQueryArg }
func (s *FunctionSource) BenefitsFromConcurrentScraping() bool { return false }

// GetTile calls the function, converting the raw URL query into a JSON
// object (each value parsed as JSON if possible, else kept as a string)
// when the function accepts a fourth argument.
func (s *FunctionSource) GetTile(ctx context.Context, z, x, y int, query map[string]string) (tileset.Tile, error) {
	if !tileset.ValidCoord(z, x, y) {
		return tileset.Tile{}, &tileerr.BadCoordinate{Z: z, X: x, Y: y, Reason: "out of pyramid range"}
	}
	conn, err := s.pool.Acquire(ctx, "get_tile:"+s.id)
	if err != nil {
		return tileset.Tile{}, err
	}
	defer conn.Release()

	var data []byte
	var scanErr error
	if s.fn.HasQueryArg {
		queryJSON, err := queryToJSON(query)
		if err != nil {
			return tileset.Tile{}, fmt.Errorf("encoding query for %s: %w", s.id, err)
		}
		scanErr = conn.QueryRow(ctx, s.query, z, x, y, queryJSON).Scan(&data)
	} else {
		scanErr = conn.QueryRow(ctx, s.query, z, x, y).Scan(&data)
	}
	if scanErr != nil {
		return tileset.Tile{}, &tileerr.Backend{Source: s.id, Cause: scanErr}
	}
	return tileset.Tile{Data: data, Info: s.TileInfo()}, nil
}

// queryToJSON converts a URL query's values into a JSON object, parsing
// each value as JSON when possible (so "42" becomes a number and "true"
// a bool) and falling back to a plain string otherwise.
func queryToJSON(query map[string]string) ([]byte, error) {
	obj := make(map[string]interface{}, len(query))
	for k, v := range query {
		var parsed interface{}
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			obj[k] = parsed
		} else {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

// applyTileJSONPatch merges a raw JSON object (typically sourced from a
// table comment) over selected TileJSON fields the table owner may want
// to override (name, description, attribution).
func applyTileJSONPatch(tj *tileset.TileJSON, raw string) {
	if raw == "" {
		return
	}
	var patch struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Attribution string `json:"attribution"`
	}
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		return
	}
	if patch.Name != "" {
		tj.Name = patch.Name
	}
	if patch.Description != "" {
		tj.Description = patch.Description
	}
	if patch.Attribution != "" {
		tj.Attribution = patch.Attribution
	}
}

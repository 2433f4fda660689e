package mbtiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tileserv/tileserv/internal/tileerr"
	"github.com/tileserv/tileserv/internal/tileset"
)

// Source adapts a Handle to the tileset.Source contract,
// carrying the public id and cached TileJSON metadata alongside it.
type Source struct {
	handle   *Handle
	id       string
	tilejson tileset.TileJSON
	info     tileset.Info
}

// NewSource builds a tileset.Source from an opened Handle, reading
// metadata once at construction: sources are created once and never
// mutated afterward.
func NewSource(id string, h *Handle) (*Source, error) {
	tj, info, err := readMetadata(h.db, h.logger)
	if err != nil {
		return nil, fmt.Errorf("reading metadata from %s: %w", h.Path, err)
	}
	return &Source{handle: h, id: id, tilejson: tj, info: info}, nil
}

func (s *Source) ID() string                  { return s.id }
func (s *Source) TileJSON() tileset.TileJSON   { return s.tilejson }
func (s *Source) TileInfo() tileset.Info       { return s.info }
func (s *Source) SupportsURLQuery() bool       { return false }
func (s *Source) BenefitsFromConcurrentScraping() bool { return true }

// GetTile converts y (XYZ) to TMS and looks up the tile.
func (s *Source) GetTile(ctx context.Context, z, x, y int, _ map[string]string) (tileset.Tile, error) {
	if !tileset.ValidCoord(z, x, y) {
		return tileset.Tile{}, &tileerr.BadCoordinate{Z: z, X: x, Y: y, Reason: "out of pyramid range"}
	}
	tms := tileset.InvertY(z, y)
	data, _, err := s.handle.GetTileAndHash(ctx, z, x, tms)
	if err != nil {
		return tileset.Tile{}, wrapBackendErr(s.id, err)
	}
	return tileset.Tile{Data: data, Info: s.info}, nil
}

// GetTileAndHash returns (bytes, hash) for the tile at TMS (z,x,y). hash
// is nil for Flat, the stored tile_hash for FlatWithHash, and
// map.tile_id for Normalized.
func (h *Handle) GetTileAndHash(ctx context.Context, z, x, y int) (data []byte, hash *string, err error) {
	var query string
	switch h.Schema.Type {
	case Flat:
		query = `SELECT tile_data, NULL FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`
	case FlatWithHash:
		query = `SELECT tile_data, tile_hash FROM tiles_with_hash WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`
	case Normalized:
		if h.Schema.HashView {
			query = `SELECT tile_data, tile_id FROM tiles_with_hash WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`
		} else {
			query = `SELECT images.tile_data, map.tile_id FROM map JOIN images ON map.tile_id = images.tile_id
				WHERE map.zoom_level = ? AND map.tile_column = ? AND map.tile_row = ?`
		}
	}

	var tileHash sql.NullString
	err = withBusyRetry(ctx, func() error {
		return h.db.QueryRowContext(ctx, query, z, x, y).Scan(&data, &tileHash)
	})
	if err == sql.ErrNoRows {
		return nil, nil, nil // tile absence is not an error
	}
	if err != nil {
		return nil, nil, err
	}
	if tileHash.Valid {
		hash = &tileHash.String
	}
	return data, hash, nil
}

// wellKnownMetadataKeys are the metadata table keys with defined
// meaning; anything else is carried through as an opaque string.
var wellKnownMetadataKeys = map[string]bool{
	"name": true, "format": true, "bounds": true, "center": true,
	"minzoom": true, "maxzoom": true, "attribution": true,
	"description": true, "type": true, "version": true, "json": true,
}

// reservedAggHashKeys must never be copied between files by the copier.
var reservedAggHashKeys = map[string]bool{
	"agg_tiles_hash": true, "agg_tiles_hash_before_apply": true, "agg_tiles_hash_after_apply": true,
}

func readMetadata(db *sql.DB, logger *zap.Logger) (tileset.TileJSON, tileset.Info, error) {
	rows, err := db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		return tileset.TileJSON{}, tileset.Info{}, err
	}
	defer rows.Close()

	tj := tileset.TileJSON{TileJSON: "3.0.0", MinZoom: 0, MaxZoom: 22}
	format := "pbf"
	var layerJSON string

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return tileset.TileJSON{}, tileset.Info{}, err
		}
		switch name {
		case "name":
			tj.Name = value
		case "description":
			tj.Description = value
		case "attribution":
			tj.Attribution = value
		case "version":
			tj.Version = value
		case "format":
			format = value
		case "minzoom":
			fmt.Sscanf(value, "%d", &tj.MinZoom)
		case "maxzoom":
			fmt.Sscanf(value, "%d", &tj.MaxZoom)
		case "bounds":
			fmt.Sscanf(value, "%f,%f,%f,%f", &tj.Bounds[0], &tj.Bounds[1], &tj.Bounds[2], &tj.Bounds[3])
		case "center":
			fmt.Sscanf(value, "%f,%f,%f", &tj.Center[0], &tj.Center[1], &tj.Center[2])
		case "json":
			layerJSON = value
		default:
			if !wellKnownMetadataKeys[name] && !reservedAggHashKeys[name] {
				logger.Warn("unrecognized mbtiles metadata key", zap.String("name", name))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return tileset.TileJSON{}, tileset.Info{}, err
	}

	if layerJSON != "" {
		var parsed struct {
			VectorLayers []tileset.VectorLayer `json:"vector_layers"`
		}
		if err := json.Unmarshal([]byte(layerJSON), &parsed); err == nil {
			tj.VectorLayers = parsed.VectorLayers
		}
	}

	info := tileset.Info{Encoding: tileset.Identity}
	switch format {
	case "pbf":
		info.Format = tileset.MVT
		info.Encoding = tileset.Gzip // MVT tiles in mbtiles are conventionally gzip-compressed
	case "png":
		info.Format = tileset.PNG
	case "jpg":
		info.Format = tileset.JPEG
	case "webp":
		info.Format = tileset.WEBP
	}

	return tj, info, nil
}

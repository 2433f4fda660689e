package pmtiles

import (
	"context"
	"fmt"

	"github.com/tileserv/tileserv/internal/tileerr"
	"github.com/tileserv/tileserv/internal/tileset"
)

// Source adapts a Reader to the tileset.Source contract.
type Source struct {
	id       string
	reader   *Reader
	tilejson tileset.TileJSON
	info     tileset.Info
}

// NewSource builds a tileset.Source over an opened Reader, deriving
// TileJSON from the header plus the archive's own JSON metadata blob.
func NewSource(ctx context.Context, id string, r *Reader) (*Source, error) {
	meta, err := r.ReadMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading pmtiles metadata for %s: %w", id, err)
	}

	h := r.Header()
	tj := tileset.TileJSON{
		TileJSON: "3.0.0",
		MinZoom:  int(h.MinZoom),
		MaxZoom:  int(h.MaxZoom),
		Bounds:   [4]float64{float64(h.MinLonE7) / 1e7, float64(h.MinLatE7) / 1e7, float64(h.MaxLonE7) / 1e7, float64(h.MaxLatE7) / 1e7},
		Center:   [3]float64{float64(h.CenterLonE7) / 1e7, float64(h.CenterLatE7) / 1e7, float64(h.CenterZoom)},
	}
	applyPMTilesMetadata(&tj, meta)

	info := tileset.Info{Encoding: tileset.Identity}
	switch h.TileCompression {
	case Gzip:
		info.Encoding = tileset.Gzip
	case Brotli:
		info.Encoding = tileset.Brotli
	case Zstd:
		info.Encoding = tileset.Zstd
	}
	switch h.TileType {
	case Mvt:
		info.Format = tileset.MVT
	case Png:
		info.Format = tileset.PNG
	case Jpeg:
		info.Format = tileset.JPEG
	case Webp:
		info.Format = tileset.WEBP
	}

	return &Source{id: id, reader: r, tilejson: tj, info: info}, nil
}

func applyPMTilesMetadata(tj *tileset.TileJSON, meta map[string]interface{}) {
	if meta == nil {
		return
	}
	if v, ok := meta["name"].(string); ok {
		tj.Name = v
	}
	if v, ok := meta["description"].(string); ok {
		tj.Description = v
	}
	if v, ok := meta["attribution"].(string); ok {
		tj.Attribution = v
	}
	if layers, ok := meta["vector_layers"].([]interface{}); ok {
		for _, l := range layers {
			lm, ok := l.(map[string]interface{})
			if !ok {
				continue
			}
			var layer tileset.VectorLayer
			if id, ok := lm["id"].(string); ok {
				layer.ID = id
			}
			if desc, ok := lm["description"].(string); ok {
				layer.Description = desc
			}
			tj.VectorLayers = append(tj.VectorLayers, layer)
		}
	}
}

func (s *Source) ID() string                           { return s.id }
func (s *Source) TileJSON() tileset.TileJSON           { return s.tilejson }
func (s *Source) TileInfo() tileset.Info               { return s.info }
func (s *Source) SupportsURLQuery() bool               { return false }
func (s *Source) BenefitsFromConcurrentScraping() bool { return true }

// GetTile fetches the tile at XYZ (z,x,y); PMTiles archives are
// natively addressed by Hilbert ID derived straight from XYZ
// coordinates, so — unlike MBTiles — no TMS inversion is needed.
func (s *Source) GetTile(ctx context.Context, z, x, y int, _ map[string]string) (tileset.Tile, error) {
	if !tileset.ValidCoord(z, x, y) {
		return tileset.Tile{}, &tileerr.BadCoordinate{Z: z, X: x, Y: y, Reason: "out of pyramid range"}
	}
	data, err := s.reader.GetTile(ctx, uint8(z), uint32(x), uint32(y))
	if err != nil {
		return tileset.Tile{}, &tileerr.Backend{Source: s.id, Cause: err}
	}
	return tileset.Tile{Data: data, Info: s.info}, nil
}

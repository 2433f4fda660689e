package mbtiles

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tileserv/tileserv/internal/tileset"
)

// PutTile writes one tile at TMS (z, x, y), dispatching on
// h.Schema.Type the same way the differ's patch application does: a
// direct tiles row for Flat, a tiles_with_hash row (hash computed from
// data) for FlatWithHash, and a dedup-by-hash images/map pair for
// Normalized. An existing row at that coordinate is replaced.
func (h *Handle) PutTile(z, x, y int, data []byte) error {
	return insertPatchRow(h.db, h.Schema.Type, Coord{Z: z, X: x, Y: y}, data, nil)
}

// SetMetadata upserts one metadata row, overwriting any existing value.
func (h *Handle) SetMetadata(name, value string) error {
	_, err := h.db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return err
}

// WriteTileJSON seeds h's metadata table from tj and info, in the same
// name/value shape every MBTiles reader (including this package's own
// readMetadata) expects: name, description, attribution, version,
// minzoom, maxzoom, bounds, center, format and, for vector tiles, a
// json-encoded json key holding vector_layers.
func (h *Handle) WriteTileJSON(tj tileset.TileJSON, info tileset.Info) error {
	pairs := map[string]string{
		"name":    tj.Name,
		"minzoom": strconv.Itoa(tj.MinZoom),
		"maxzoom": strconv.Itoa(tj.MaxZoom),
		"format":  formatForMetadata(info),
	}
	if tj.Description != "" {
		pairs["description"] = tj.Description
	}
	if tj.Attribution != "" {
		pairs["attribution"] = tj.Attribution
	}
	if tj.Version != "" {
		pairs["version"] = tj.Version
	}
	if tj.Bounds != [4]float64{} {
		pairs["bounds"] = formatFloats(tj.Bounds[:])
	}
	if tj.Center != [3]float64{} {
		pairs["center"] = formatFloats(tj.Center[:])
	}
	if len(tj.VectorLayers) > 0 {
		body, err := json.Marshal(struct {
			VectorLayers []tileset.VectorLayer `json:"vector_layers"`
		}{tj.VectorLayers})
		if err != nil {
			return err
		}
		pairs["json"] = string(body)
	}

	for name, value := range pairs {
		if err := h.SetMetadata(name, value); err != nil {
			return err
		}
	}
	return nil
}

func formatForMetadata(info tileset.Info) string {
	if info.Format == tileset.UnknownFormat {
		return "pbf"
	}
	return info.Format.String()
}

func formatFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(parts, ",")
}

// Package tileset defines the contract every tile backend implements
// plus the shared data model (§3.2, §3.3).
package tileset

import "context"

// Format is the image/vector encoding of a tile's payload.
type Format int

const (
	UnknownFormat Format = iota
	MVT
	PNG
	JPEG
	WEBP
)

func (f Format) String() string {
	switch f {
	case MVT:
		return "pbf"
	case PNG:
		return "png"
	case JPEG:
		return "jpg"
	case WEBP:
		return "webp"
	default:
		return "unknown"
	}
}

// ContentType returns the HTTP Content-Type for the format.
func (f Format) ContentType() string {
	switch f {
	case MVT:
		return "application/x-protobuf"
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	case WEBP:
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// Encoding is the content-encoding a tile payload is stored/served in.
type Encoding int

const (
	Identity Encoding = iota
	Gzip
	Brotli
	Zstd
)

func (e Encoding) String() string {
	switch e {
	case Gzip:
		return "gzip"
	case Brotli:
		return "br"
	case Zstd:
		return "zstd"
	default:
		return "identity"
	}
}

// Info describes the static format/encoding a source's get_tile calls
// return (a source never mixes formats across tiles; encoding is
// typically fixed per source too, though the HTTP pipeline may
// re-encode on the way out).
type Info struct {
	Format   Format
	Encoding Encoding
}

// Concatenatable reports whether tiles with this Info can be
// byte-concatenated to merge multi-source responses: only MVT with
// Identity or Gzip encoding qualifies. It checks this one Info only;
// Merge separately requires every tile to share the same Info
// (concatenating raw protobuf layer messages requires a single
// consistent wire encoding across the whole response).
func (i Info) Concatenatable() bool {
	return i.Format == MVT && (i.Encoding == Identity || i.Encoding == Gzip)
}

// Tile is a payload plus the info describing it.
type Tile struct {
	Data []byte
	Info Info
}

// Empty reports whether the tile has no data — "not found" per source
// contract, never an error condition.
func (t Tile) Empty() bool { return len(t.Data) == 0 }

// VectorLayer describes one MVT layer contributed by a source, for
// TileJSON's vector_layers field.
type VectorLayer struct {
	ID       string            `json:"id"`
	Fields   map[string]string `json:"fields,omitempty"`
	MinZoom  *int              `json:"minzoom,omitempty"`
	MaxZoom  *int              `json:"maxzoom,omitempty"`
	Description string         `json:"description,omitempty"`
}

// TileJSON is the subset of the TileJSON 3.0 spec this engine produces
// and merges.
type TileJSON struct {
	TileJSON    string        `json:"tilejson"`
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Attribution string        `json:"attribution,omitempty"`
	Version     string        `json:"version,omitempty"`
	Scheme      string        `json:"scheme,omitempty"`
	Tiles       []string      `json:"tiles"`
	MinZoom     int           `json:"minzoom"`
	MaxZoom     int           `json:"maxzoom"`
	Bounds      [4]float64    `json:"bounds,omitempty"`
	Center      [3]float64    `json:"center,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers,omitempty"`
}

// Clone returns a deep-enough copy for independent mutation (slices are
// copied; used by Registry.MergeTileJSON).
func (t TileJSON) Clone() TileJSON {
	out := t
	out.Tiles = append([]string(nil), t.Tiles...)
	out.VectorLayers = append([]VectorLayer(nil), t.VectorLayers...)
	return out
}

// Source is the uniform async contract every backend implements.
type Source interface {
	// ID is the source's stable public identifier.
	ID() string

	// TileJSON returns the source's tileset metadata.
	TileJSON() TileJSON

	// TileInfo returns the static format/encoding of tiles this source
	// returns.
	TileInfo() Info

	// GetTile returns the tile payload at (z, x, y) in XYZ addressing.
	// It returns an empty byte slice (Tile.Empty() == true), not an
	// error, when the tile does not exist. query holds the incoming
	// request's URL query parameters (first value of each); it is nil
	// when the source does not support per-tile queries.
	GetTile(ctx context.Context, z, x, y int, query map[string]string) (Tile, error)

	// SupportsURLQuery reports whether the pipeline may pass a query to
	// GetTile. When false, the pipeline must not pass one.
	SupportsURLQuery() bool

	// BenefitsFromConcurrentScraping is an advisory hint for bulk
	// exporters (e.g. the `tileserv copy` command) that this source's
	// GetTile calls parallelize well (no single shared connection that
	// would serialize them).
	BenefitsFromConcurrentScraping() bool
}

// Kind tags the concrete backend behind a Source, for registry
// bookkeeping and diagnostics — sources are held as a flat interface
// list rather than a type hierarchy.
type Kind string

const (
	KindMBTiles  Kind = "mbtiles"
	KindPMTiles  Kind = "pmtiles"
	KindPostgres Kind = "postgres"
	KindFunction Kind = "function"
)

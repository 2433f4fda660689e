package mbtiles

import "database/sql"

// SchemaType is one of the three on-disk tile-storage layouts MBTiles
// files use.
type SchemaType int

const (
	// Flat stores tiles(z, x, y, tile_data) directly, PRIMARY KEY(z,x,y).
	Flat SchemaType = iota
	// FlatWithHash stores tiles_with_hash(z, x, y, tile_data, tile_hash)
	// as the real table, plus a view named `tiles` over it.
	FlatWithHash
	// Normalized de-duplicates tile bytes via map(z,x,y,tile_id) +
	// images(tile_id PK, tile_data), tile_id being the lowercase hex MD5
	// of tile_data. It may additionally have a `tiles_with_hash` view
	// joining the two.
	Normalized
)

func (t SchemaType) String() string {
	switch t {
	case FlatWithHash:
		return "flat-with-hash"
	case Normalized:
		return "normalized"
	default:
		return "flat"
	}
}

// Schema describes a detected schema: its type, and — for Normalized —
// whether the convenience `tiles_with_hash` view over map+images exists.
type Schema struct {
	Type     SchemaType
	HashView bool // Normalized only: tiles_with_hash view present
}

// schemaObject records an sqlite_schema row's type (table|view).
type schemaObject struct {
	name, kind string
}

// DetectSchema inspects sqlite_schema to classify an open database:
// the presence of *table* tiles_with_hash
// means FlatWithHash; presence of tables map+images means Normalized
// (with HashView true iff a *view* named tiles_with_hash also exists);
// otherwise Flat.
func DetectSchema(db *sql.DB) (Schema, error) {
	objs, err := schemaObjects(db)
	if err != nil {
		return Schema{}, err
	}

	hashTable := objs["tiles_with_hash"] == "table"
	hashView := objs["tiles_with_hash"] == "view"
	hasMap := objs["map"] == "table"
	hasImages := objs["images"] == "table"

	switch {
	case hashTable:
		return Schema{Type: FlatWithHash}, nil
	case hasMap && hasImages:
		return Schema{Type: Normalized, HashView: hashView}, nil
	default:
		return Schema{Type: Flat}, nil
	}
}

func schemaObjects(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT name, type FROM sqlite_schema WHERE type IN ('table', 'view')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, err
		}
		out[name] = kind
	}
	return out, rows.Err()
}

// TilesSelectSource is the FROM-clause-ready relation to read tiles
// from, accounting for whether a convenience view exists.
func (s Schema) TilesSelectSource() string {
	switch s.Type {
	case FlatWithHash:
		return "tiles"
	case Normalized:
		if s.HashView {
			return "tiles_with_hash"
		}
		return "map JOIN images ON map.tile_id = images.tile_id"
	default:
		return "tiles"
	}
}

// TilesTableName is the real underlying table tile rows live in (as
// opposed to TilesSelectSource, which may name a view).
func (s Schema) TilesTableName() string {
	switch s.Type {
	case FlatWithHash:
		return "tiles_with_hash"
	case Normalized:
		return "map"
	default:
		return "tiles"
	}
}

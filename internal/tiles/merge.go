package tiles

import (
	"fmt"

	"github.com/tileserv/tileserv/internal/tileerr"
	"github.com/tileserv/tileserv/internal/tileset"
)

// Merge implements §4.7 step 4 of the request pipeline: zero non-empty
// tiles reports ok=false (the caller serves 204); exactly one passes
// through unchanged; two or more are concatenated when every one of
// them is MVT with a shared Identity-or-Gzip encoding, and rejected
// otherwise (format mismatches across sources can never be merged into
// a single payload).
func Merge(tiles []tileset.Tile) (merged tileset.Tile, ok bool, err error) {
	nonEmpty := make([]tileset.Tile, 0, len(tiles))
	for _, t := range tiles {
		if !t.Empty() {
			nonEmpty = append(nonEmpty, t)
		}
	}

	switch len(nonEmpty) {
	case 0:
		return tileset.Tile{}, false, nil
	case 1:
		return nonEmpty[0], true, nil
	}

	want := nonEmpty[0].Info
	if !want.Concatenatable() {
		return tileset.Tile{}, false, &tileerr.IncompatibleMerge{
			Reason: fmt.Sprintf("%s/%s tiles cannot be concatenated across sources", want.Format, want.Encoding),
		}
	}

	var size int
	for _, t := range nonEmpty {
		if t.Info != want {
			return tileset.Tile{}, false, &tileerr.IncompatibleMerge{
				Reason: "requested sources returned different tile formats/encodings",
			}
		}
		size += len(t.Data)
	}

	buf := make([]byte, 0, size)
	for _, t := range nonEmpty {
		buf = append(buf, t.Data...)
	}
	return tileset.Tile{Data: buf, Info: want}, true, nil
}

package mbtiles

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
	"github.com/tileserv/tileserv/internal/tileerr"
	"github.com/zeebo/xxh3"
)

// BindiffVariant selects whether a binary delta applies to a tile's raw
// bytes or to its gunzipped payload.
type BindiffVariant int

const (
	BindiffRaw BindiffVariant = iota
	BindiffRawGz
)

func (v BindiffVariant) tableName() string {
	if v == BindiffRawGz {
		return "bsdiff_rawgz_data"
	}
	return "bsdiffraw_data"
}

// makeBinaryPatch produces a bsdiff delta between oldTile and newTile,
// returning the patch bytes and the xxh3 of newTile (the value stored
// alongside the patch so apply-side can verify reconstruction). For
// BindiffRawGz both tiles are first gunzipped.
func makeBinaryPatch(variant BindiffVariant, oldTile, newTile []byte) (patch []byte, newHash uint64, err error) {
	old, neu := oldTile, newTile
	if variant == BindiffRawGz {
		if old, err = gunzip(old); err != nil {
			return nil, 0, fmt.Errorf("gunzip old tile for bindiff: %w", err)
		}
		if neu, err = gunzip(neu); err != nil {
			return nil, 0, fmt.Errorf("gunzip new tile for bindiff: %w", err)
		}
	}
	patch, err = bsdiff.Bytes(old, neu)
	if err != nil {
		return nil, 0, fmt.Errorf("bsdiff: %w", err)
	}
	return patch, xxh3.Hash(neu), nil
}

// applyBinaryPatch reconstructs a tile from baseTile + patch, verifying
// the result against wantHash (xxh3 of the post-apply, variant-local
// byte form). For BindiffRawGz, the base tile is gunzipped before
// patching and the reconstruction is re-gzipped to stand in for the
// stored tile_data; the re-gzip output is non-canonical (gzip isn't
// byte-stable across re-compression) so only the per-tile xxh3 —
// computed on the gunzipped form — is authoritative for this variant.
func applyBinaryPatch(variant BindiffVariant, baseTile, patch []byte, wantHash uint64) (tile []byte, err error) {
	base := baseTile
	if variant == BindiffRawGz {
		if base, err = gunzip(base); err != nil {
			return nil, fmt.Errorf("gunzip base tile for bindiff: %w", err)
		}
	}

	reconstructed, err := bspatch.Bytes(base, patch)
	if err != nil {
		return nil, fmt.Errorf("bspatch: %w", err)
	}

	if got := xxh3.Hash(reconstructed); got != wantHash {
		return nil, &tileerr.PatchMismatch{Expected: fmt.Sprintf("%x", wantHash), Actual: fmt.Sprintf("%x", got)}
	}

	if variant == BindiffRawGz {
		return gzipBytes(reconstructed)
	}
	return reconstructed, nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

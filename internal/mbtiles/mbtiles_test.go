package mbtiles

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, schemaType SchemaType) *Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbtiles")
	h, err := Create(path, schemaType, nil)
	require.NoError(t, err)
	return h
}

func putTile(t *testing.T, h *Handle, z, x, y int, data []byte) {
	t.Helper()
	err := insertPatchRow(h.db, h.Schema.Type, Coord{Z: z, X: x, Y: y}, data, nil)
	require.NoError(t, err)
}

func TestDetectSchema(t *testing.T) {
	for _, st := range []SchemaType{Flat, FlatWithHash, Normalized} {
		h := newTestDB(t, st)
		detected, err := DetectSchema(h.db)
		require.NoError(t, err)
		require.Equal(t, st, detected.Type)
	}
}

func TestGetTileAndHashRoundTrip(t *testing.T) {
	h := newTestDB(t, FlatWithHash)
	data := []byte("vector tile bytes")
	putTile(t, h, 3, 1, 2, data)

	got, hash, err := h.GetTileAndHash(context.Background(), 3, 1, 2)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.NotNil(t, hash)
}

func TestGetTileAndHashMissingIsNotAnError(t *testing.T) {
	h := newTestDB(t, Flat)
	data, hash, err := h.GetTileAndHash(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.Nil(t, data)
	require.Nil(t, hash)
}

func TestSourceInvertsYBeforeLookup(t *testing.T) {
	h := newTestDB(t, Flat)
	// Store at TMS (z=2,x=1,y=1); an XYZ request for y=2 should hit it
	// since tms_y = (2^z - 1) - xyz_y = 3 - 2 = 1.
	putTile(t, h, 2, 1, 1, []byte("tms-stored"))

	src, err := NewSource("test", h)
	require.NoError(t, err)

	tile, err := src.GetTile(context.Background(), 2, 1, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("tms-stored"), tile.Data)
}

func TestComputeAggHashIsOrderIndependentOfInsertOrder(t *testing.T) {
	h1 := newTestDB(t, Flat)
	putTile(t, h1, 1, 0, 0, []byte("a"))
	putTile(t, h1, 1, 1, 0, []byte("b"))
	hash1, err := ComputeAggHash(h1.db, h1.Schema)
	require.NoError(t, err)

	h2 := newTestDB(t, Flat)
	putTile(t, h2, 1, 1, 0, []byte("b"))
	putTile(t, h2, 1, 0, 0, []byte("a"))
	hash2, err := ComputeAggHash(h2.db, h2.Schema)
	require.NoError(t, err)

	require.Equal(t, hash1, hash2)
}

func TestCopyPreservesTilesAndAggHash(t *testing.T) {
	src := newTestDB(t, Flat)
	putTile(t, src, 0, 0, 0, []byte("root"))
	putTile(t, src, 1, 0, 0, []byte("child-a"))
	putTile(t, src, 1, 1, 1, []byte("child-b"))
	srcHash, err := ComputeAggHash(src.db, src.Schema)
	require.NoError(t, err)
	require.NoError(t, StoreAggHash(src.db, AggTilesHashKey, srcHash))
	srcPath := src.Path
	require.NoError(t, src.Close())

	dstPath := filepath.Join(t.TempDir(), "dst.mbtiles")
	require.NoError(t, Copy(CopyOptions{
		SrcPath:        srcPath,
		DstPath:        dstPath,
		ComputeAggHash: true,
	}))

	dst, err := Open(dstPath, nil)
	require.NoError(t, err)
	defer dst.Close()

	dstHash, err := ComputeAggHash(dst.db, dst.Schema)
	require.NoError(t, err)
	require.Equal(t, srcHash, dstHash)
}

func TestDiffApplyRoundTrip(t *testing.T) {
	srcH := newTestDB(t, Flat)
	putTile(t, srcH, 0, 0, 0, []byte("unchanged"))
	putTile(t, srcH, 1, 0, 0, []byte("will-be-modified"))
	putTile(t, srcH, 1, 1, 0, []byte("will-be-deleted"))
	srcHash, err := ComputeAggHash(srcH.db, srcH.Schema)
	require.NoError(t, err)
	require.NoError(t, StoreAggHash(srcH.db, AggTilesHashKey, srcHash))
	srcPath := srcH.Path
	require.NoError(t, srcH.Close())

	difH := newTestDB(t, Flat)
	putTile(t, difH, 0, 0, 0, []byte("unchanged"))
	putTile(t, difH, 1, 0, 0, []byte("modified!"))
	putTile(t, difH, 1, 1, 1, []byte("newly-added"))
	difHash, err := ComputeAggHash(difH.db, difH.Schema)
	require.NoError(t, err)
	require.NoError(t, StoreAggHash(difH.db, AggTilesHashKey, difHash))
	difPath := difH.Path
	require.NoError(t, difH.Close())

	patchPath := filepath.Join(t.TempDir(), "patch.mbtiles")
	require.NoError(t, Diff(DiffOptions{SrcPath: srcPath, DifPath: difPath, OutPath: patchPath}))

	dstPath := filepath.Join(t.TempDir(), "applied.mbtiles")
	require.NoError(t, Apply(ApplyOptions{BasePath: srcPath, PatchPath: patchPath, DstPath: dstPath}))

	dst, err := Open(dstPath, nil)
	require.NoError(t, err)
	defer dst.Close()

	dstHash, err := ComputeAggHash(dst.db, dst.Schema)
	require.NoError(t, err)
	require.Equal(t, difHash, dstHash)

	data, _, err := dst.GetTileAndHash(context.Background(), 0, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("unchanged"), data)

	data, _, err = dst.GetTileAndHash(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("modified!"), data)

	data, _, err = dst.GetTileAndHash(context.Background(), 1, 1, 0)
	require.NoError(t, err)
	require.Nil(t, data)

	data, _, err = dst.GetTileAndHash(context.Background(), 1, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("newly-added"), data)
}

func TestDiffApplyWithBindiffRaw(t *testing.T) {
	srcH := newTestDB(t, FlatWithHash)
	base := make([]byte, 4096)
	for i := range base {
		base[i] = byte(i % 251)
	}
	putTile(t, srcH, 5, 3, 3, base)
	srcPath := srcH.Path
	require.NoError(t, srcH.Close())

	modified := append([]byte(nil), base...)
	modified[10] = 0xFF
	modified[4000] = 0x01
	difH := newTestDB(t, FlatWithHash)
	putTile(t, difH, 5, 3, 3, modified)
	difPath := difH.Path
	require.NoError(t, difH.Close())

	variant := BindiffRaw
	patchPath := filepath.Join(t.TempDir(), "patch-bindiff.mbtiles")
	require.NoError(t, Diff(DiffOptions{SrcPath: srcPath, DifPath: difPath, OutPath: patchPath, Variant: &variant}))

	dstPath := filepath.Join(t.TempDir(), "applied-bindiff.mbtiles")
	require.NoError(t, Apply(ApplyOptions{BasePath: srcPath, PatchPath: patchPath, DstPath: dstPath, Force: true}))

	dst, err := Open(dstPath, nil)
	require.NoError(t, err)
	defer dst.Close()

	data, _, err := dst.GetTileAndHash(context.Background(), 5, 3, 3)
	require.NoError(t, err)
	require.Equal(t, modified, data)
}

func TestValidateDetectsHashMismatch(t *testing.T) {
	h := newTestDB(t, Flat)
	putTile(t, h, 0, 0, 0, []byte("x"))
	require.NoError(t, StoreAggHash(h.db, AggTilesHashKey, "deadbeef"))
	path := h.Path
	require.NoError(t, h.Close())

	report, err := Validate(path, CheckQuick, HashVerify)
	require.NoError(t, err)
	require.True(t, report.SqliteOK)
	require.False(t, report.HashOK)
}

package pmtiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		RootOffset: 127, RootLength: 1000,
		MetadataOffset: 1127, MetadataLength: 50,
		TileDataOffset: 2000, TileDataLength: 5000,
		MinZoom: 0, MaxZoom: 14,
		TileType: Mvt, TileCompression: Gzip, InternalCompression: Gzip,
		Clustered: true,
		MinLonE7:  -1800000000 / 10,
		CenterZoom: 5,
	}
	encoded := SerializeHeader(h)
	require.Len(t, encoded, HeaderLenBytes)

	decoded, err := DeserializeHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, h.RootOffset, decoded.RootOffset)
	require.Equal(t, h.MetadataLength, decoded.MetadataLength)
	require.Equal(t, h.MinZoom, decoded.MinZoom)
	require.Equal(t, h.MaxZoom, decoded.MaxZoom)
	require.Equal(t, h.TileType, decoded.TileType)
	require.Equal(t, h.TileCompression, decoded.TileCompression)
	require.Equal(t, h.Clustered, decoded.Clustered)
}

func TestZxyIDRoundTrip(t *testing.T) {
	cases := []struct{ z uint8; x, y uint32 }{
		{0, 0, 0},
		{1, 0, 0}, {1, 1, 1},
		{5, 3, 7},
		{10, 500, 300},
	}
	for _, c := range cases {
		id := ZxyToID(c.z, c.x, c.y)
		z, x, y := IDToZxy(id)
		require.Equal(t, c.z, z, "zoom mismatch for %+v", c)
		require.Equal(t, c.x, x, "x mismatch for %+v", c)
		require.Equal(t, c.y, y, "y mismatch for %+v", c)
	}
}

func TestEntriesRoundTrip(t *testing.T) {
	entries := []Entry{
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 1, Offset: 100, Length: 200, RunLength: 1},
		{TileID: 5, Offset: 300, Length: 50, RunLength: 3},
	}
	for _, compression := range []Compression{NoCompression, Gzip} {
		encoded := SerializeEntries(entries, compression)
		decoded, err := DeserializeEntries(encoded, compression)
		require.NoError(t, err)
		require.Equal(t, entries, decoded)
	}
}

func TestFindTileHandlesRunLength(t *testing.T) {
	entries := []Entry{
		{TileID: 0, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 5, Offset: 10, Length: 20, RunLength: 3}, // covers tileIDs 5,6,7
		{TileID: 10, Offset: 30, Length: 5, RunLength: 1},
	}
	e, ok := FindTile(entries, 6)
	require.True(t, ok)
	require.Equal(t, uint64(5), e.TileID)

	_, ok = FindTile(entries, 8)
	require.False(t, ok)

	e, ok = FindTile(entries, 10)
	require.True(t, ok)
	require.Equal(t, uint64(10), e.TileID)
}

func TestDirectoryCacheEvictsByWeight(t *testing.T) {
	cache := NewDirectoryCache(24 * 2) // room for 2 entries worth of weight
	readerID := NewReaderID()

	cache.Put(CacheKey{ReaderID: readerID, Offset: 0}, []Entry{{TileID: 1}})
	cache.Put(CacheKey{ReaderID: readerID, Offset: 100}, []Entry{{TileID: 2}})
	require.NotNil(t, cache.Get(CacheKey{ReaderID: readerID, Offset: 0}))
	require.NotNil(t, cache.Get(CacheKey{ReaderID: readerID, Offset: 100}))

	cache.Put(CacheKey{ReaderID: readerID, Offset: 200}, []Entry{{TileID: 3}})
	// Eviction is LRU; offset 100 was touched most recently via Get
	// above, so offset 0 (now least-recently-used) is the one evicted.
	require.Nil(t, cache.Get(CacheKey{ReaderID: readerID, Offset: 0}))
	require.NotNil(t, cache.Get(CacheKey{ReaderID: readerID, Offset: 100}))
}

func buildMinimalArchive(t *testing.T, tileZXY [3]int, tileData []byte) string {
	t.Helper()
	z, x, y := uint8(tileZXY[0]), uint32(tileZXY[1]), uint32(tileZXY[2])
	tileID := ZxyToID(z, x, y)

	entries := []Entry{{TileID: tileID, Offset: 0, Length: uint32(len(tileData)), RunLength: 1}}
	rootDir := SerializeEntries(entries, NoCompression)

	header := Header{
		RootOffset: HeaderLenBytes, RootLength: uint64(len(rootDir)),
		TileDataOffset: uint64(HeaderLenBytes + len(rootDir)),
		TileDataLength: uint64(len(tileData)),
		MinZoom:        0, MaxZoom: 14,
		TileType:            Mvt,
		InternalCompression: NoCompression,
		TileCompression:     NoCompression,
	}

	var buf []byte
	buf = append(buf, SerializeHeader(header)...)
	buf = append(buf, rootDir...)
	buf = append(buf, tileData...)

	path := filepath.Join(t.TempDir(), "archive.pmtiles")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestReaderGetTile(t *testing.T) {
	tileData := []byte("hello vector tile")
	path := buildMinimalArchive(t, [3]int{3, 2, 1}, tileData)

	backend, err := OpenLocal(path)
	require.NoError(t, err)
	defer backend.Close()

	cache := NewDirectoryCache(1024 * 1024)
	reader, err := OpenReader(context.Background(), path, backend, cache)
	require.NoError(t, err)

	got, err := reader.GetTile(context.Background(), 3, 2, 1)
	require.NoError(t, err)
	require.Equal(t, tileData, got)

	missing, err := reader.GetTile(context.Background(), 3, 9, 9)
	require.NoError(t, err)
	require.Nil(t, missing)
}

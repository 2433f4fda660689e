package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New(Options{MaxWeightBytes: 1024})
	_, ok := c.Get(TileKey("roads", 1, 2, 3, ""))
	require.False(t, ok)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := New(Options{MaxWeightBytes: 1024})
	key := TileKey("roads", 1, 2, 3, "")
	c.Put(key, []byte("tile-bytes"))

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("tile-bytes"), got)
}

func TestZeroMaxWeightDisablesCache(t *testing.T) {
	c := New(Options{})
	key := TileKey("roads", 1, 2, 3, "")
	c.Put(key, []byte("tile-bytes"))

	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestEvictsLeastRecentlyUsedUnderWeightPressure(t *testing.T) {
	c := New(Options{MaxWeightBytes: 10})
	a, b, d := TileKey("a", 0, 0, 0, ""), TileKey("b", 0, 0, 0, ""), TileKey("d", 0, 0, 0, "")

	c.Put(a, []byte("12345")) // weight 5
	c.Put(b, []byte("12345")) // weight 5, total 10

	_, ok := c.Get(a) // touch a, making b the LRU entry
	require.True(t, ok)

	c.Put(d, []byte("12345")) // pushes total to 15, evicts LRU (b)

	_, ok = c.Get(b)
	require.False(t, ok)
	_, ok = c.Get(a)
	require.True(t, ok)
	_, ok = c.Get(d)
	require.True(t, ok)
}

func TestTTLExpiresEntry(t *testing.T) {
	c := New(Options{MaxWeightBytes: 1024, TTL: 10 * time.Millisecond})
	key := TileKey("roads", 1, 2, 3, "")
	c.Put(key, []byte("tile-bytes"))

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(Options{MaxWeightBytes: 1024})
	key := TileKey("roads", 1, 2, 3, "")
	c.Put(key, []byte("tile-bytes"))
	c.Invalidate(key)

	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestDistinctKeyKindsDoNotCollide(t *testing.T) {
	c := New(Options{MaxWeightBytes: 1024})
	tileKey := TileKey("src", 1, 2, 3, "")
	dirKey := PmtDirectoryKey(1, 2)

	c.Put(tileKey, []byte("tile"))
	c.Put(dirKey, []byte("directory-page"))

	tv, ok := c.Get(tileKey)
	require.True(t, ok)
	require.Equal(t, []byte("tile"), tv)

	dv, ok := c.Get(dirKey)
	require.True(t, ok)
	require.Equal(t, []byte("directory-page"), dv)
}

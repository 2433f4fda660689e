package tiles

import (
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileserv/tileserv/internal/cache"
	"github.com/tileserv/tileserv/internal/registry"
	"github.com/tileserv/tileserv/internal/tileset"
)

type fakeSource struct {
	id          string
	tj          tileset.TileJSON
	info        tileset.Info
	data        []byte
	supportsURL bool
	gotQuery    map[string]string
}

func (f *fakeSource) ID() string                        { return f.id }
func (f *fakeSource) TileJSON() tileset.TileJSON         { return f.tj }
func (f *fakeSource) TileInfo() tileset.Info             { return f.info }
func (f *fakeSource) SupportsURLQuery() bool             { return f.supportsURL }
func (f *fakeSource) BenefitsFromConcurrentScraping() bool { return false }
func (f *fakeSource) GetTile(ctx context.Context, z, x, y int, q map[string]string) (tileset.Tile, error) {
	f.gotQuery = q
	return tileset.Tile{Data: f.data, Info: f.info}, nil
}

func mvtSource(id string, data []byte) *fakeSource {
	return &fakeSource{
		id:   id,
		tj:   tileset.TileJSON{Name: id, MinZoom: 0, MaxZoom: 14},
		info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity},
		data: data,
	}
}

func TestParseYExt(t *testing.T) {
	y, ext, ok := ParseYExt("10.pbf")
	require.True(t, ok)
	require.Equal(t, 10, y)
	require.Equal(t, "pbf", ext)

	y, ext, ok = ParseYExt("10")
	require.True(t, ok)
	require.Equal(t, 10, y)
	require.Equal(t, "", ext)

	_, _, ok = ParseYExt("abc")
	require.False(t, ok)
}

func TestMergeZeroTiles(t *testing.T) {
	_, ok, err := Merge(nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMergeSingleTilePassesThrough(t *testing.T) {
	tile := tileset.Tile{Data: []byte("abc"), Info: tileset.Info{Format: tileset.PNG, Encoding: tileset.Identity}}
	merged, ok, err := Merge([]tileset.Tile{tile, {}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tile, merged)
}

func TestMergeConcatenatesCompatibleMVT(t *testing.T) {
	a := tileset.Tile{Data: []byte("AAA"), Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity}}
	b := tileset.Tile{Data: []byte("BBB"), Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity}}
	merged, ok, err := Merge([]tileset.Tile{a, b})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("AAABBB"), merged.Data)
	require.Equal(t, tileset.MVT, merged.Info.Format)
}

func TestMergeRejectsNonMVTMultiSource(t *testing.T) {
	a := tileset.Tile{Data: []byte("A"), Info: tileset.Info{Format: tileset.PNG, Encoding: tileset.Identity}}
	b := tileset.Tile{Data: []byte("B"), Info: tileset.Info{Format: tileset.PNG, Encoding: tileset.Identity}}
	_, ok, err := Merge([]tileset.Tile{a, b})
	require.Error(t, err)
	require.False(t, ok)
}

func TestMergeRejectsMismatchedEncodings(t *testing.T) {
	a := tileset.Tile{Data: []byte("A"), Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity}}
	b := tileset.Tile{Data: []byte("B"), Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Gzip}}
	_, ok, err := Merge([]tileset.Tile{a, b})
	require.Error(t, err)
	require.False(t, ok)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestNegotiateForwardsWhenAlreadyAccepted(t *testing.T) {
	tile := tileset.Tile{Data: gzipBytes(t, []byte("hello")), Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Gzip}}
	body, enc, err := Negotiate(tile, "gzip, br", tileset.Brotli)
	require.NoError(t, err)
	require.Equal(t, tileset.Gzip, enc)
	require.Equal(t, tile.Data, body) // forwarded unchanged, not re-encoded
}

func TestNegotiateReencodesWhenNotAccepted(t *testing.T) {
	tile := tileset.Tile{Data: gzipBytes(t, []byte("hello")), Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Gzip}}
	body, enc, err := Negotiate(tile, "identity", tileset.Brotli)
	require.NoError(t, err)
	require.Equal(t, tileset.Identity, enc)
	require.Equal(t, []byte("hello"), body)
}

// TestNegotiateEncodingIdempotence checks property #7: the body a
// gzip-accepting client receives decodes to the same bytes as the body
// an identity-only client receives.
func TestNegotiateEncodingIdempotence(t *testing.T) {
	raw := []byte("the quick brown fox jumps over the lazy dog")
	tile := tileset.Tile{Data: raw, Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity}}

	gzBody, gzEnc, err := Negotiate(tile, "gzip", tileset.Brotli)
	require.NoError(t, err)
	require.Equal(t, tileset.Gzip, gzEnc)

	idBody, idEnc, err := Negotiate(tile, "identity", tileset.Brotli)
	require.NoError(t, err)
	require.Equal(t, tileset.Identity, idEnc)

	r, err := gzip.NewReader(bytes.NewReader(gzBody))
	require.NoError(t, err)
	var decoded bytes.Buffer
	_, err = decoded.ReadFrom(r)
	require.NoError(t, err)

	require.Equal(t, idBody, decoded.Bytes())
	require.Equal(t, raw, idBody)
}

func TestNegotiatePrefersBrotliOverGzipByDefault(t *testing.T) {
	tile := tileset.Tile{Data: []byte("hello"), Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity}}
	_, enc, err := Negotiate(tile, "gzip, br", tileset.Brotli)
	require.NoError(t, err)
	require.Equal(t, tileset.Brotli, enc)
}

func TestNegotiateHonorsGzipPreferredEncodingConfig(t *testing.T) {
	tile := tileset.Tile{Data: []byte("hello"), Info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity}}
	_, enc, err := Negotiate(tile, "gzip, br", tileset.Gzip)
	require.NoError(t, err)
	require.Equal(t, tileset.Gzip, enc)
}

func TestWeakETagAndIfNoneMatch(t *testing.T) {
	etag := WeakETag([]byte("payload"))
	require.True(t, len(etag) > 0)
	require.True(t, IfNoneMatch(etag, etag))
	require.True(t, IfNoneMatch("*", etag))
	require.False(t, IfNoneMatch(`W/"deadbeef"`, etag))
}

func TestBuildTilesURLPrefersExplicitBase(t *testing.T) {
	sources := []tileset.Source{mvtSource("roads", nil)}
	url := BuildTilesURL("https://example.com/tiles/roads", "https://rewrite/x", "/roads?foo=bar", sources)
	require.Equal(t, "https://example.com/tiles/roads/{z}/{x}/{y}?foo=bar", url)
}

func TestBuildTilesURLFallsBackToRewriteHeaderThenRequestURI(t *testing.T) {
	sources := []tileset.Source{mvtSource("roads", nil)}
	url := BuildTilesURL("", "https://rewrite/x", "/roads?foo=bar", sources)
	require.Equal(t, "https://rewrite/x/{z}/{x}/{y}?foo=bar", url)

	url = BuildTilesURL("", "", "/roads?foo=bar", sources)
	require.Equal(t, "/roads/{z}/{x}/{y}?foo=bar", url)
}

func TestBuildTilesURLInjectsVersion(t *testing.T) {
	a := mvtSource("a", nil)
	a.tj.Version = "1.0"
	b := mvtSource("b", nil)
	b.tj.Version = "2.0"
	url := BuildTilesURL("", "", "/a,b", []tileset.Source{a, b})
	require.Equal(t, "/a,b/{z}/{x}/{y}?version=1.0-2.0", url)
}

func TestCatalogRendersEveryEntry(t *testing.T) {
	a := mvtSource("roads", nil)
	a.tj.Description = "desc"
	entries := Catalog([]tileset.Source{a})
	require.Len(t, entries, 1)
	require.Equal(t, "roads", entries[0].ID)
	require.Equal(t, "application/x-protobuf", entries[0].ContentType)
	require.Equal(t, "desc", entries[0].Description)
	require.Equal(t, "", entries[0].ContentEncoding) // identity omits the header
}

func TestPipelineGetTileSingleSource(t *testing.T) {
	src := mvtSource("roads", []byte("tile-bytes"))
	p := &Pipeline{Registry: registry.New([]tileset.Source{src}), Cache: cache.New(cache.Options{})}

	res, err := p.GetTile(context.Background(), "roads", 1, 0, 0, nil, "identity", "")
	require.NoError(t, err)
	require.Equal(t, 200, res.Status)
	require.Equal(t, []byte("tile-bytes"), res.Body)
	require.Equal(t, "application/x-protobuf", res.ContentType)
}

func TestPipelineGetTileEmptyTileReturns204(t *testing.T) {
	src := mvtSource("roads", nil) // GetTile returns empty bytes
	p := &Pipeline{Registry: registry.New([]tileset.Source{src}), Cache: cache.New(cache.Options{})}

	res, err := p.GetTile(context.Background(), "roads", 1, 0, 0, nil, "identity", "")
	require.NoError(t, err)
	require.Equal(t, 204, res.Status)
}

func TestPipelineGetTileUnknownSourceIs404(t *testing.T) {
	p := &Pipeline{Registry: registry.New(nil), Cache: cache.New(cache.Options{})}
	_, err := p.GetTile(context.Background(), "missing", 1, 0, 0, nil, "identity", "")
	require.Error(t, err)
}

func TestPipelineGetTileBadCoordinate(t *testing.T) {
	p := &Pipeline{Registry: registry.New(nil), Cache: cache.New(cache.Options{})}
	_, err := p.GetTile(context.Background(), "x", 40, 0, 0, nil, "identity", "")
	require.Error(t, err)
}

func TestPipelineGetTilePassesQueryOnlyToSourcesThatSupportIt(t *testing.T) {
	supports := mvtSource("fn", []byte("a"))
	supports.supportsURL = true
	noQuery := mvtSource("plain", []byte("b"))
	noQuery.supportsURL = false

	p := &Pipeline{Registry: registry.New([]tileset.Source{supports, noQuery}), Cache: cache.New(cache.Options{})}
	query := map[string]string{"foo": "bar"}
	_, err := p.GetTile(context.Background(), "fn,plain", 1, 0, 0, query, "identity", "")
	require.NoError(t, err)

	require.Equal(t, query, supports.gotQuery)
	require.Nil(t, noQuery.gotQuery)
}

func TestPipelineGetTileUsesCacheOnSecondRequest(t *testing.T) {
	src := mvtSource("roads", []byte("v1"))
	p := &Pipeline{Registry: registry.New([]tileset.Source{src}), Cache: cache.New(cache.Options{MaxWeightBytes: 1024})}

	res1, err := p.GetTile(context.Background(), "roads", 1, 0, 0, nil, "identity", "")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), res1.Body)

	src.data = []byte("v2") // backend changes, but the cache entry should still be served
	res2, err := p.GetTile(context.Background(), "roads", 1, 0, 0, nil, "identity", "")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), res2.Body)
}

func TestPipelineGetTileIfNoneMatchReturns304(t *testing.T) {
	src := mvtSource("roads", []byte("tile-bytes"))
	p := &Pipeline{Registry: registry.New([]tileset.Source{src}), Cache: cache.New(cache.Options{})}

	res1, err := p.GetTile(context.Background(), "roads", 1, 0, 0, nil, "identity", "")
	require.NoError(t, err)

	res2, err := p.GetTile(context.Background(), "roads", 1, 0, 0, nil, "identity", res1.ETag)
	require.NoError(t, err)
	require.Equal(t, 304, res2.Status)
}

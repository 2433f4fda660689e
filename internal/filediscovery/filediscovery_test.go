package filediscovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileserv/tileserv/internal/idresolver"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	return p
}

func TestDiscoverListsDirectoryByExtensionNonRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mbtiles")
	writeFile(t, dir, "b.mbtiles")
	writeFile(t, dir, "c.txt")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	writeFile(t, filepath.Join(dir, "nested"), "d.mbtiles")

	result, err := Discover(FileConfig{Paths: []string{dir}}, Options{Extensions: []string{".mbtiles"}})
	require.NoError(t, err)
	require.Len(t, result.Sources, 2)
	require.Equal(t, []string{dir}, result.ScannedDirs)

	var ids []string
	for _, s := range result.Sources {
		ids = append(ids, s.ID)
	}
	require.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestDiscoverBareFileMustMatchExtension(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "data.txt")

	_, err := Discover(FileConfig{Paths: []string{p}}, Options{Extensions: []string{".mbtiles"}})
	require.Error(t, err)
}

func TestDiscoverRejectsURLWhenNotParsesURLs(t *testing.T) {
	_, err := Discover(FileConfig{Paths: []string{"https://example.test/tiles.pmtiles"}}, Options{Extensions: []string{".pmtiles"}})
	require.Error(t, err)
}

func TestDiscoverAcceptsURLWhenParsesURLs(t *testing.T) {
	result, err := Discover(FileConfig{Paths: []string{"https://example.test/tiles.pmtiles"}}, Options{
		Extensions: []string{".pmtiles"}, ParsesURLs: true,
	})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	require.Equal(t, "tiles", result.Sources[0].ID)
	require.Equal(t, "https://example.test/tiles.pmtiles", result.Sources[0].Path)
}

func TestDiscoverExplicitSourcesUseGivenID(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "roads.mbtiles")

	result, err := Discover(FileConfig{Sources: map[string][]string{"myroads": {p}}}, Options{Extensions: []string{".mbtiles"}})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	require.Equal(t, "myroads", result.Sources[0].ID)
}

func TestDiscoverDuplicatePathKeepsFirst(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "roads.mbtiles")
	abs, err := filepath.Abs(p)
	require.NoError(t, err)

	result, err := Discover(FileConfig{
		Sources: map[string][]string{"first": {p}, "second": {abs}},
	}, Options{Extensions: []string{".mbtiles"}})
	require.NoError(t, err)
	require.Len(t, result.Sources, 1)
	require.Equal(t, "first", result.Sources[0].ID)
}

func TestDiscoverRunsThroughIDResolverOnCollision(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "roads.mbtiles")
	other := t.TempDir()
	writeFile(t, other, "roads.mbtiles")

	resolver := idresolver.New(nil)
	result, err := Discover(FileConfig{Paths: []string{dir, other}}, Options{
		Extensions: []string{".mbtiles"}, Resolver: resolver,
	})
	require.NoError(t, err)
	require.Len(t, result.Sources, 2)
	require.Equal(t, "roads", result.Sources[0].ID)
	require.Equal(t, "roads.1", result.Sources[1].ID)
}

func TestDiscoverMissingPathErrors(t *testing.T) {
	_, err := Discover(FileConfig{Paths: []string{"/nonexistent/path/x.mbtiles"}}, Options{Extensions: []string{".mbtiles"}})
	require.Error(t, err)
}

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileserv/tileserv/internal/tileset"
)

type fakeSource struct {
	id   string
	tj   tileset.TileJSON
	info tileset.Info
}

func (f *fakeSource) ID() string                        { return f.id }
func (f *fakeSource) TileJSON() tileset.TileJSON         { return f.tj }
func (f *fakeSource) TileInfo() tileset.Info             { return f.info }
func (f *fakeSource) SupportsURLQuery() bool             { return false }
func (f *fakeSource) BenefitsFromConcurrentScraping() bool { return false }
func (f *fakeSource) GetTile(ctx context.Context, z, x, y int, q map[string]string) (tileset.Tile, error) {
	return tileset.Tile{}, nil
}

func mvtSource(id string, minZ, maxZ int) *fakeSource {
	return &fakeSource{
		id:   id,
		tj:   tileset.TileJSON{Name: id, MinZoom: minZ, MaxZoom: maxZ, Bounds: [4]float64{-10, -10, 10, 10}},
		info: tileset.Info{Format: tileset.MVT, Encoding: tileset.Identity},
	}
}

func TestGetSourcesDropsOutOfZoomRangeSilently(t *testing.T) {
	reg := New([]tileset.Source{
		mvtSource("roads", 0, 10),
		mvtSource("buildings", 12, 20),
	})

	zoom := 5
	sources, err := reg.GetSources("roads,buildings", &zoom)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "roads", sources[0].ID())
}

func TestGetSourcesRejectsUnknownID(t *testing.T) {
	reg := New([]tileset.Source{mvtSource("roads", 0, 10)})
	_, err := reg.GetSources("roads,missing", nil)
	require.Error(t, err)
}

func TestGetSourcesRejectsIncompatibleTileInfo(t *testing.T) {
	png := &fakeSource{id: "imagery", tj: tileset.TileJSON{Name: "imagery"}, info: tileset.Info{Format: tileset.PNG}}
	reg := New([]tileset.Source{mvtSource("roads", 0, 20), png})

	_, err := reg.GetSources("roads,imagery", nil)
	require.Error(t, err)
}

func TestMergeTileJSONSingleSourceOverridesTiles(t *testing.T) {
	merged := MergeTileJSON([]tileset.Source{mvtSource("roads", 0, 10)}, "https://example.test/roads/{z}/{x}/{y}")
	require.Equal(t, []string{"https://example.test/roads/{z}/{x}/{y}"}, merged.Tiles)
	require.Equal(t, "roads", merged.Name)
}

func TestMergeTileJSONMultiSourceUnionsBoundsAndZoom(t *testing.T) {
	a := mvtSource("roads", 0, 10)
	a.tj.Bounds = [4]float64{-5, -5, 5, 5}
	b := mvtSource("buildings", 5, 15)
	b.tj.Bounds = [4]float64{-10, -2, 2, 10}

	merged := MergeTileJSON([]tileset.Source{a, b}, "https://example.test/{z}/{x}/{y}")
	require.Equal(t, 0, merged.MinZoom)
	require.Equal(t, 15, merged.MaxZoom)
	require.Equal(t, [4]float64{-10, -5, 5, 10}, merged.Bounds)
	require.Equal(t, "roads, buildings", merged.Name)
}

func TestMergeTileJSONConcatenatesVectorLayersPreservingDuplicates(t *testing.T) {
	a := mvtSource("a", 0, 10)
	a.tj.VectorLayers = []tileset.VectorLayer{{ID: "layer1"}}
	b := mvtSource("b", 0, 10)
	b.tj.VectorLayers = []tileset.VectorLayer{{ID: "layer1"}, {ID: "layer2"}}

	merged := MergeTileJSON([]tileset.Source{a, b}, "https://example.test/{z}/{x}/{y}")
	require.Len(t, merged.VectorLayers, 3)
	require.Equal(t, "layer1", merged.VectorLayers[0].ID)
	require.Equal(t, "layer1", merged.VectorLayers[1].ID)
	require.Equal(t, "layer2", merged.VectorLayers[2].ID)
}

func TestAllReturnsSortedByID(t *testing.T) {
	reg := New([]tileset.Source{mvtSource("zzz", 0, 1), mvtSource("aaa", 0, 1)})
	all := reg.All()
	require.Len(t, all, 2)
	require.Equal(t, "aaa", all[0].ID())
	require.Equal(t, "zzz", all[1].ID())
}

// Package registry holds the immutable id -> source map the HTTP
// pipeline and bulk exporters resolve tiles against.
package registry

import (
	"sort"
	"strings"

	"github.com/tileserv/tileserv/internal/tileerr"
	"github.com/tileserv/tileserv/internal/tileset"
)

// Registry is a read-only snapshot of every configured/discovered
// source, keyed by its resolved public id. Reconfiguration builds a new
// Registry and swaps it in atomically rather than mutating this one.
type Registry struct {
	sources map[string]tileset.Source
}

// New builds a Registry from a flat list of sources, keyed by their own
// ID(). Passing two sources with the same ID is a caller bug (the
// idresolver is responsible for making ids unique before this point);
// the later one wins.
func New(sources []tileset.Source) *Registry {
	m := make(map[string]tileset.Source, len(sources))
	for _, s := range sources {
		m[s.ID()] = s
	}
	return &Registry{sources: m}
}

// Get returns the source registered under id, or nil if absent.
func (r *Registry) Get(id string) tileset.Source { return r.sources[id] }

// All returns every registered source, sorted by id for deterministic
// catalog listings.
func (r *Registry) All() []tileset.Source {
	out := make([]tileset.Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GetSources parses a comma-separated id list, resolves each against the
// registry, drops any source whose zoom range excludes zoom (when zoom
// is non-nil), and rejects the whole request if the surviving sources
// don't share one TileInfo (a multi-source tile response can only be
// concatenated when every source emits the same format+encoding).
func (r *Registry) GetSources(csvIDs string, zoom *int) ([]tileset.Source, error) {
	ids := strings.Split(csvIDs, ",")
	sources := make([]tileset.Source, 0, len(ids))
	for _, rawID := range ids {
		id := strings.TrimSpace(rawID)
		if id == "" {
			continue
		}
		src := r.sources[id]
		if src == nil {
			return nil, &tileerr.NotFound{ID: id}
		}
		if zoom != nil {
			tj := src.TileJSON()
			if *zoom < tj.MinZoom || *zoom > tj.MaxZoom {
				continue // silently dropped: multi-layer requests degrade gracefully
			}
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return sources, nil
	}

	want := sources[0].TileInfo()
	for _, s := range sources[1:] {
		if s.TileInfo() != want {
			return nil, &tileerr.IncompatibleMerge{Reason: "requested sources do not share one format/encoding"}
		}
	}
	return sources, nil
}

// MergeTileJSON combines one or more sources' TileJSON into the single
// document the metadata endpoint serves, overriding tiles with tilesURL.
func MergeTileJSON(sources []tileset.Source, tilesURL string) tileset.TileJSON {
	if len(sources) == 1 {
		out := sources[0].TileJSON().Clone()
		out.Tiles = []string{tilesURL}
		return out
	}

	var out tileset.TileJSON
	out.TileJSON = "3.0.0"
	out.Tiles = []string{tilesURL}

	var names, descriptions, attributions []string
	boundsSet := false

	for _, s := range sources {
		tj := s.TileJSON()

		if !boundsSet {
			out.Bounds = tj.Bounds
			out.MinZoom = tj.MinZoom
			out.MaxZoom = tj.MaxZoom
			boundsSet = true
		} else {
			out.Bounds = unionBounds(out.Bounds, tj.Bounds)
			if tj.MinZoom < out.MinZoom {
				out.MinZoom = tj.MinZoom
			}
			if tj.MaxZoom > out.MaxZoom {
				out.MaxZoom = tj.MaxZoom
			}
		}

		if out.Center == ([3]float64{}) && tj.Center != ([3]float64{}) {
			out.Center = tj.Center
		}

		out.VectorLayers = append(out.VectorLayers, tj.VectorLayers...)

		names = appendUnique(names, tj.Name)
		descriptions = appendUnique(descriptions, tj.Description)
		attributions = appendUnique(attributions, tj.Attribution)
	}

	out.Name = strings.Join(names, ", ")
	out.Description = strings.Join(descriptions, "\n")
	out.Attribution = strings.Join(attributions, "\n")
	return out
}

func unionBounds(a, b [4]float64) [4]float64 {
	return [4]float64{
		minF(a[0], b[0]), minF(a[1], b[1]),
		maxF(a[2], b[2]), maxF(a[3], b[3]),
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

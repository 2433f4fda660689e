package tiles

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/tileserv/tileserv/internal/cache"
	"github.com/tileserv/tileserv/internal/registry"
	"github.com/tileserv/tileserv/internal/tileerr"
	"github.com/tileserv/tileserv/internal/tileset"
)

// Pipeline implements the full tile-request contract (§4.7, C7) over a
// Registry: coordinate validation, source resolution, concurrent fetch,
// merge, content-encoding negotiation and ETag computation.
type Pipeline struct {
	Registry *registry.Registry
	Cache    *cache.Cache
	// PreferredEncoding breaks negotiation ties between Brotli and Gzip
	// (default Brotli first, per §4.7.5); the zero value behaves as
	// Brotli-preferred.
	PreferredEncoding tileset.Encoding
}

// Result is one tile request's outcome, ready to be written to an HTTP
// response by whatever framework-specific adapter calls GetTile.
type Result struct {
	Status          int
	Body            []byte
	ContentType     string
	ContentEncoding string
	ETag            string
}

// GetTile serves one GET /{ids}/{z}/{x}/{y} request. query is the raw
// URL query of the incoming request, passed only to sources that
// support it (§9's open question: sources with differing
// SupportsURLQuery values in the same multi-source request receive the
// query or not independently — that is intentional, not a bug).
func (p *Pipeline) GetTile(ctx context.Context, ids string, z, x, y int, query map[string]string, acceptEncoding, ifNoneMatch string) (Result, error) {
	if !tileset.ValidCoord(z, x, y) {
		return Result{}, &tileerr.BadCoordinate{Z: z, X: x, Y: y, Reason: "out of pyramid range"}
	}

	zoom := z
	sources, err := p.Registry.GetSources(ids, &zoom)
	if err != nil {
		return Result{}, err
	}
	if len(sources) == 0 {
		return Result{}, &tileerr.NotFound{ID: ids}
	}

	fingerprint := queryFingerprint(query)
	cacheKeys := make([]cache.Key, len(sources))
	tiles := make([]tileset.Tile, len(sources))
	var misses []int
	for i, src := range sources {
		key := cache.TileKey(src.ID(), z, x, y, fingerprint)
		cacheKeys[i] = key
		if data, ok := p.cacheGet(key); ok {
			tiles[i] = tileset.Tile{Data: data, Info: src.TileInfo()}
			continue
		}
		misses = append(misses, i)
	}

	if len(misses) > 0 {
		if err := fetchInto(ctx, sources, misses, z, x, y, query, tiles); err != nil {
			return Result{}, err
		}
		for _, i := range misses {
			if !tiles[i].Empty() {
				p.cachePut(cacheKeys[i], tiles[i].Data)
			}
		}
	}

	merged, ok, err := Merge(tiles)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Status: http.StatusNoContent}, nil
	}

	body, encoding, err := Negotiate(merged, acceptEncoding, p.preferredOrDefault())
	if err != nil {
		return Result{}, err
	}

	etag := WeakETag(body)
	if IfNoneMatch(ifNoneMatch, etag) {
		return Result{Status: http.StatusNotModified, ETag: etag}, nil
	}

	return Result{
		Status:          http.StatusOK,
		Body:            body,
		ContentType:     merged.Info.Format.ContentType(),
		ContentEncoding: EncodingHeader(encoding),
		ETag:            etag,
	}, nil
}

func (p *Pipeline) preferredOrDefault() tileset.Encoding {
	if p.PreferredEncoding == tileset.Gzip {
		return tileset.Gzip
	}
	return tileset.Brotli
}

func (p *Pipeline) cacheGet(key cache.Key) ([]byte, bool) {
	if p.Cache == nil {
		return nil, false
	}
	return p.Cache.Get(key)
}

func (p *Pipeline) cachePut(key cache.Key, data []byte) {
	if p.Cache == nil {
		return
	}
	p.Cache.Put(key, data)
}

// fetchInto resolves tiles[i] for every i in indices concurrently,
// preserving result-slot order rather than completion order (§5
// ordering guarantee).
func fetchInto(ctx context.Context, sources []tileset.Source, indices []int, z, x, y int, query map[string]string, tiles []tileset.Tile) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, i := range indices {
		i := i
		src := sources[i]
		g.Go(func() error {
			q := query
			if !src.SupportsURLQuery() {
				q = nil
			}
			t, err := src.GetTile(gctx, z, x, y, q)
			if err != nil {
				return fmt.Errorf("source %s: %w", src.ID(), err)
			}
			tiles[i] = t
			return nil
		})
	}
	return g.Wait()
}

// queryFingerprint renders query into a stable cache-key fragment; an
// empty/nil query fingerprints to "".
func queryFingerprint(query map[string]string) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out string
	for i, k := range keys {
		if i > 0 {
			out += "&"
		}
		out += k + "=" + query[k]
	}
	return out
}

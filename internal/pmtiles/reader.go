package pmtiles

import (
	"context"
	"fmt"

	"github.com/tileserv/tileserv/internal/tileerr"
)

// maxDirectoryDepth bounds root->leaf traversal; PMTiles archives are
// practically always at most 2 levels deep (root + one leaf layer), but
// the format allows chained leaves, so this matches the depth the
// reference server implementation tolerates before giving up.
const maxDirectoryDepth = 4

// Reader provides cached, random tile lookups over one PMTiles v3
// archive.
type Reader struct {
	id      int64
	name    string
	backend Backend
	cache   *DirectoryCache
	header  Header
}

// OpenReader reads the header and assigns this reader a process-unique
// id for cache-key isolation.
func OpenReader(ctx context.Context, name string, backend Backend, cache *DirectoryCache) (*Reader, error) {
	raw, err := backend.ReadRange(ctx, 0, HeaderLenBytes)
	if err != nil {
		return nil, &tileerr.CorruptFile{Path: name, Cause: err}
	}
	header, err := DeserializeHeader(raw)
	if err != nil {
		return nil, &tileerr.CorruptFile{Path: name, Cause: err}
	}
	return &Reader{id: NewReaderID(), name: name, backend: backend, cache: cache, header: header}, nil
}

func (r *Reader) Header() Header { return r.header }

// Close releases the underlying backend.
func (r *Reader) Close() error { return r.backend.Close() }

// directoryAt loads a directory page at the given absolute offset and
// length, consulting the cache first.
func (r *Reader) directoryAt(ctx context.Context, offset, length uint64) ([]Entry, error) {
	key := CacheKey{ReaderID: r.id, Offset: offset}
	if cached := r.cache.Get(key); cached != nil {
		return cached, nil
	}

	raw, err := r.backend.ReadRange(ctx, int64(offset), int64(length))
	if err != nil {
		return nil, &tileerr.Backend{Source: r.name, Cause: err}
	}
	entries, err := DeserializeEntries(raw, r.header.InternalCompression)
	if err != nil {
		return nil, &tileerr.CorruptFile{Path: r.name, Cause: err}
	}
	r.cache.Put(key, entries)
	return entries, nil
}

// GetTile looks up the bytes for (z,x,y), returning (nil, nil) if the
// tile is absent.
func (r *Reader) GetTile(ctx context.Context, z uint8, x, y uint32) ([]byte, error) {
	if z < r.header.MinZoom || z > r.header.MaxZoom {
		return nil, nil
	}
	tileID := ZxyToID(z, x, y)

	dirOffset, dirLength := r.header.RootOffset, r.header.RootLength
	for depth := 0; depth < maxDirectoryDepth; depth++ {
		entries, err := r.directoryAt(ctx, dirOffset, dirLength)
		if err != nil {
			return nil, err
		}
		entry, ok := FindTile(entries, tileID)
		if !ok {
			return nil, nil
		}
		if entry.RunLength > 0 {
			data, err := r.backend.ReadRange(ctx, int64(r.header.TileDataOffset+entry.Offset), int64(entry.Length))
			if err != nil {
				return nil, &tileerr.Backend{Source: r.name, Cause: err}
			}
			return data, nil
		}
		dirOffset = r.header.LeafDirectoryOffset + entry.Offset
		dirLength = uint64(entry.Length)
	}
	return nil, fmt.Errorf("pmtiles: directory traversal exceeded depth %d for %s", maxDirectoryDepth, r.name)
}

// ReadMetadata fetches and decodes the archive's JSON metadata blob.
func (r *Reader) ReadMetadata(ctx context.Context) (map[string]interface{}, error) {
	if r.header.MetadataLength == 0 {
		return nil, nil
	}
	raw, err := r.backend.ReadRange(ctx, int64(r.header.MetadataOffset), int64(r.header.MetadataLength))
	if err != nil {
		return nil, &tileerr.Backend{Source: r.name, Cause: err}
	}
	return DeserializeMetadata(raw, r.header.InternalCompression)
}

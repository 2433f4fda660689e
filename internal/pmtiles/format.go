// Package pmtiles implements read access to PMTiles v3 archives: the
// 127-byte binary header, the varint-delta-encoded directory tree, and
// the backends (local file, HTTP range requests, S3) and weight-bounded
// cache that make random tile lookups over it cheap.
package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// Compression identifies how a section of the archive was compressed.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression      Compression = 1
	Gzip               Compression = 2
	Brotli             Compression = 3
	Zstd               Compression = 4
)

// TileType identifies the format of individual tile payloads.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt             TileType = 1
	Png             TileType = 2
	Jpeg            TileType = 3
	Webp            TileType = 4
	Avif            TileType = 5
)

// HeaderLenBytes is the fixed size of the PMTiles v3 binary header.
const HeaderLenBytes = 127

// Header is the 127-byte PMTiles v3 header.
type Header struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// Entry is one row of a PMTiles directory: either a leaf-directory
// pointer (RunLength == 0, Offset/Length relative to the leaf-directory
// section) or a tile-data pointer (RunLength >= 1, covering
// [TileID, TileID+RunLength) contiguous tiles at Offset/Length within
// the tile-data section).
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// ZxyToID converts (z,x,y) tile coordinates to a Hilbert-curve tile ID,
// the order PMTiles directories are sorted by.
func ZxyToID(z uint8, x uint32, y uint32) uint64 {
	if z == 0 {
		return 0
	}
	var acc uint64 = (1<<(z*2) - 1) / 3
	n := uint32(z - 1)
	for s := uint32(1) << n; s > 0; s >>= 1 {
		rx := s & x
		ry := s & y
		acc += uint64((3*rx)^ry) << n
		x, y = rotate(s, x, y, rx, ry)
		n--
	}
	return acc
}

func rotate(n, x, y, rx, ry uint32) (uint32, uint32) {
	if ry == 0 {
		if rx != 0 {
			x = n - 1 - x
			y = n - 1 - y
		}
		return y, x
	}
	return x, y
}

// IDToZxy inverts ZxyToID, recovering (z,x,y) from a Hilbert tile ID.
func IDToZxy(id uint64) (z uint8, x uint32, y uint32) {
	var numTiles uint64
	for z = 0; z < 32; z++ {
		numTiles = 1 << (z * 2)
		if id < numTiles {
			break
		}
		id -= numTiles
	}

	n := uint32(1) << z
	var tx, ty uint32
	for s := uint32(1); s < n; s *= 2 {
		rx := uint32((id / 2) & 1)
		ry := uint32((id ^ uint64(rx)) & 1)
		tx, ty = rotate(s, tx, ty, rx, ry)
		tx += s * rx
		ty += s * ry
		id /= 4
	}
	return z, tx, ty
}

// SerializeHeader renders h as the fixed 127-byte binary header.
func SerializeHeader(h Header) []byte {
	b := make([]byte, HeaderLenBytes)
	copy(b[0:7], "PMTiles")
	b[7] = 3
	binary.LittleEndian.PutUint64(b[8:16], h.RootOffset)
	binary.LittleEndian.PutUint64(b[16:24], h.RootLength)
	binary.LittleEndian.PutUint64(b[24:32], h.MetadataOffset)
	binary.LittleEndian.PutUint64(b[32:40], h.MetadataLength)
	binary.LittleEndian.PutUint64(b[40:48], h.LeafDirectoryOffset)
	binary.LittleEndian.PutUint64(b[48:56], h.LeafDirectoryLength)
	binary.LittleEndian.PutUint64(b[56:64], h.TileDataOffset)
	binary.LittleEndian.PutUint64(b[64:72], h.TileDataLength)
	binary.LittleEndian.PutUint64(b[72:80], h.AddressedTilesCount)
	binary.LittleEndian.PutUint64(b[80:88], h.TileEntriesCount)
	binary.LittleEndian.PutUint64(b[88:96], h.TileContentsCount)
	if h.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	binary.LittleEndian.PutUint32(b[102:106], uint32(h.MinLonE7))
	binary.LittleEndian.PutUint32(b[106:110], uint32(h.MinLatE7))
	binary.LittleEndian.PutUint32(b[110:114], uint32(h.MaxLonE7))
	binary.LittleEndian.PutUint32(b[114:118], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	binary.LittleEndian.PutUint32(b[119:123], uint32(h.CenterLonE7))
	binary.LittleEndian.PutUint32(b[123:127], uint32(h.CenterLatE7))
	return b
}

// DeserializeHeader parses the fixed 127-byte binary header.
func DeserializeHeader(d []byte) (Header, error) {
	var h Header
	if len(d) < HeaderLenBytes {
		return h, errors.New("pmtiles: buffer too small for header")
	}
	if string(d[0:7]) != "PMTiles" {
		return h, errors.New("pmtiles: bad magic number")
	}
	if d[7] != 3 {
		return h, errors.New("pmtiles: unsupported spec version, only v3 is supported")
	}

	h.SpecVersion = d[7]
	h.RootOffset = binary.LittleEndian.Uint64(d[8:16])
	h.RootLength = binary.LittleEndian.Uint64(d[16:24])
	h.MetadataOffset = binary.LittleEndian.Uint64(d[24:32])
	h.MetadataLength = binary.LittleEndian.Uint64(d[32:40])
	h.LeafDirectoryOffset = binary.LittleEndian.Uint64(d[40:48])
	h.LeafDirectoryLength = binary.LittleEndian.Uint64(d[48:56])
	h.TileDataOffset = binary.LittleEndian.Uint64(d[56:64])
	h.TileDataLength = binary.LittleEndian.Uint64(d[64:72])
	h.AddressedTilesCount = binary.LittleEndian.Uint64(d[72:80])
	h.TileEntriesCount = binary.LittleEndian.Uint64(d[80:88])
	h.TileContentsCount = binary.LittleEndian.Uint64(d[88:96])
	h.Clustered = d[96] == 0x1
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(binary.LittleEndian.Uint32(d[102:106]))
	h.MinLatE7 = int32(binary.LittleEndian.Uint32(d[106:110]))
	h.MaxLonE7 = int32(binary.LittleEndian.Uint32(d[110:114]))
	h.MaxLatE7 = int32(binary.LittleEndian.Uint32(d[114:118]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(binary.LittleEndian.Uint32(d[119:123]))
	h.CenterLatE7 = int32(binary.LittleEndian.Uint32(d[123:127]))
	return h, nil
}

type nopWriteCloser struct{ *bytes.Buffer }

func (w *nopWriteCloser) Close() error { return nil }

// SerializeEntries renders a directory page: entry count, then four
// varint-delta-encoded columns (tile ID deltas, run lengths, lengths,
// offsets — offsets delta-coded against "contiguous with previous" as a
// single 0 sentinel), optionally gzip-compressed.
func SerializeEntries(entries []Entry, compression Compression) []byte {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch compression {
	case NoCompression:
		w = &nopWriteCloser{&buf}
	case Gzip:
		w, _ = gzip.NewWriterLevel(&buf, gzip.BestCompression)
	default:
		panic("pmtiles: unsupported directory compression")
	}

	tmp := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(tmp, uint64(len(entries)))
	w.Write(tmp[:n])

	var lastID uint64
	for _, e := range entries {
		n = binary.PutUvarint(tmp, e.TileID-lastID)
		w.Write(tmp[:n])
		lastID = e.TileID
	}
	for _, e := range entries {
		n = binary.PutUvarint(tmp, uint64(e.RunLength))
		w.Write(tmp[:n])
	}
	for _, e := range entries {
		n = binary.PutUvarint(tmp, uint64(e.Length))
		w.Write(tmp[:n])
	}
	for i, e := range entries {
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			n = binary.PutUvarint(tmp, 0)
		} else {
			n = binary.PutUvarint(tmp, e.Offset+1)
		}
		w.Write(tmp[:n])
	}
	w.Close()
	return buf.Bytes()
}

// DeserializeEntries parses a directory page in the layout
// SerializeEntries produces, handling the optional gzip wrapper.
func DeserializeEntries(d []byte, compression Compression) ([]Entry, error) {
	var r io.Reader = bytes.NewReader(d)
	if compression == Gzip {
		gz, err := gzip.NewReader(bytes.NewReader(d))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	br := byteReaderOf(r)

	count, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, count)

	var lastID uint64
	for i := range entries {
		delta, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		lastID += delta
		entries[i].TileID = lastID
	}
	for i := range entries {
		v, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		entries[i].RunLength = uint32(v)
	}
	for i := range entries {
		v, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		entries[i].Length = uint32(v)
	}
	for i := range entries {
		v, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		if v == 0 {
			if i == 0 {
				return nil, errors.New("pmtiles: first entry cannot use contiguous-offset sentinel")
			}
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

// byteReader adapts an io.Reader to io.ByteReader for binary.ReadUvarint.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	_, err := io.ReadFull(b.r, b.buf[:])
	return b.buf[0], err
}

func byteReaderOf(r io.Reader) io.ByteReader {
	if br, ok := r.(io.ByteReader); ok {
		return br
	}
	return &byteReader{r: r}
}

// FindTile binary-searches a directory page for tileID, accounting for
// run-length ranges.
func FindTile(entries []Entry, tileID uint64) (Entry, bool) {
	m, n := 0, len(entries)-1
	for m <= n {
		k := (m + n) / 2
		switch {
		case entries[k].TileID < tileID:
			m = k + 1
		case entries[k].TileID > tileID:
			n = k - 1
		default:
			return entries[k], true
		}
	}
	if n >= 0 {
		e := entries[n]
		if e.RunLength == 0 || tileID-e.TileID < uint64(e.RunLength) {
			return e, true
		}
	}
	return Entry{}, false
}

// DeserializeMetadata decompresses and JSON-decodes the metadata blob.
func DeserializeMetadata(d []byte, compression Compression) (map[string]interface{}, error) {
	raw := d
	if compression == Gzip {
		gz, err := gzip.NewReader(bytes.NewReader(d))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		decoded, err := io.ReadAll(gz)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}
	var m map[string]interface{}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

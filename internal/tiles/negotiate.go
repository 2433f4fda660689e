package tiles

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/tileserv/tileserv/internal/tileset"
)

// acceptedEncoding is one token parsed out of an Accept-Encoding header.
type acceptedEncoding struct {
	name string
	q    float64
}

// parseAcceptEncoding parses an Accept-Encoding header into its tokens,
// sorted by descending q-value (RFC 7231 §5.3.4, q defaults to 1).
func parseAcceptEncoding(header string) []acceptedEncoding {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]acceptedEncoding, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, q := p, 1.0
		if i := strings.IndexByte(p, ';'); i >= 0 {
			name = strings.TrimSpace(p[:i])
			if v, ok := parseQValue(p[i+1:]); ok {
				q = v
			}
		}
		out = append(out, acceptedEncoding{name: strings.ToLower(name), q: q})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].q > out[j].q })
	return out
}

func parseQValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "q=") {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, "q="), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// acceptsEncoding reports whether enc is acceptable per the parsed
// Accept-Encoding tokens. An absent header accepts only identity;
// identity is implicitly acceptable unless explicitly forbidden
// ("identity;q=0").
func acceptsEncoding(accepted []acceptedEncoding, enc string) bool {
	if len(accepted) == 0 {
		return enc == "identity"
	}
	wildcardQ := -1.0
	for _, a := range accepted {
		if a.name == enc {
			return a.q > 0
		}
		if a.name == "*" {
			wildcardQ = a.q
		}
	}
	if enc == "identity" {
		return true
	}
	return wildcardQ > 0
}

// negotiationOrder is the re-encode preference order: Brotli > Gzip >
// Identity, or Gzip first when preferred is explicitly Gzip.
func negotiationOrder(preferred tileset.Encoding) []tileset.Encoding {
	if preferred == tileset.Gzip {
		return []tileset.Encoding{tileset.Gzip, tileset.Brotli, tileset.Identity}
	}
	return []tileset.Encoding{tileset.Brotli, tileset.Gzip, tileset.Identity}
}

// Negotiate implements §4.7 step 5: if the tile is stored compressed in
// an encoding the client accepts, it is forwarded unchanged; otherwise
// (including every Identity tile) it is decoded and re-encoded to the
// best mutually acceptable encoding in preference order.
func Negotiate(t tileset.Tile, acceptEncodingHeader string, preferred tileset.Encoding) ([]byte, tileset.Encoding, error) {
	accepted := parseAcceptEncoding(acceptEncodingHeader)

	// An already-compressed tile the client accepts is forwarded as-is.
	// An Identity tile always falls through to the re-encode branch
	// below, since there is no decode cost to pay and compressing it
	// when the client accepts gzip/brotli is strictly better.
	if t.Info.Encoding != tileset.Identity && acceptsEncoding(accepted, t.Info.Encoding.String()) {
		return t.Data, t.Info.Encoding, nil
	}

	raw, err := decode(t.Data, t.Info.Encoding)
	if err != nil {
		return nil, tileset.Identity, fmt.Errorf("tiles: decoding %s payload: %w", t.Info.Encoding, err)
	}

	for _, enc := range negotiationOrder(preferred) {
		if !acceptsEncoding(accepted, enc.String()) {
			continue
		}
		out, err := encode(raw, enc)
		if err != nil {
			return nil, tileset.Identity, fmt.Errorf("tiles: re-encoding to %s: %w", enc, err)
		}
		return out, enc, nil
	}
	// Nothing the client claims to accept matches; identity is the safe
	// fallback (every HTTP client understands it).
	return raw, tileset.Identity, nil
}

func decode(data []byte, enc tileset.Encoding) ([]byte, error) {
	switch enc {
	case tileset.Identity:
		return data, nil
	case tileset.Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case tileset.Brotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	case tileset.Zstd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return data, nil
	}
}

func encode(data []byte, enc tileset.Encoding) ([]byte, error) {
	switch enc {
	case tileset.Identity:
		return data, nil
	case tileset.Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case tileset.Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported target encoding %s", enc)
	}
}

// EncodingHeader returns the Content-Encoding header value for enc, or
// "" for Identity (meaning the header should be omitted).
func EncodingHeader(enc tileset.Encoding) string {
	if enc == tileset.Identity {
		return ""
	}
	return enc.String()
}

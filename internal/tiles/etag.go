package tiles

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// WeakETag computes §4.7.6's weak ETag: "W/" plus a truncated hex MD5 of
// the payload. Truncating keeps header size bounded without weakening
// collision resistance for cache-busting purposes (this is a cache
// validator, not a security digest).
func WeakETag(body []byte) string {
	sum := md5.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:])[:16] + `"`
}

// IfNoneMatch reports whether any entry in the (comma-separated)
// If-None-Match header value matches etag, honoring the "*" wildcard.
func IfNoneMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" || part == etag {
			return true
		}
	}
	return false
}

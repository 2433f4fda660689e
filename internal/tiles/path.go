// Package tiles implements the HTTP tile pipeline (C7): parsing the
// tile/metadata path, dispatching to the resolved sources, merging
// multi-source responses, negotiating content-encoding, and computing
// the weak ETag. It is deliberately framework-agnostic — internal/server
// adapts it to huma.
package tiles

import (
	"strconv"
	"strings"
)

// ParseYExt splits a path's trailing "{y}[.ext]" segment into its
// integer y coordinate and optional extension (without the dot).
func ParseYExt(segment string) (y int, ext string, ok bool) {
	name := segment
	if i := strings.LastIndexByte(segment, '.'); i >= 0 {
		name, ext = segment[:i], segment[i+1:]
	}
	v, err := strconv.Atoi(name)
	if err != nil {
		return 0, "", false
	}
	return v, ext, true
}

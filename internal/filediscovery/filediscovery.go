// Package filediscovery resolves a FileConfig (explicit sources plus
// directories to scan) into a concrete list of file/URL paths, applying
// extension filtering, URL gating, and duplicate detection.
package filediscovery

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tileserv/tileserv/internal/idresolver"
)

// urlSchemes are the schemes a path may use instead of a local
// filesystem path, when the source type opts in via ParsesURLs.
var urlSchemes = map[string]bool{
	"http": true, "https": true, "s3": true, "gs": true, "azure": true,
}

// FileConfig mirrors the config shape a backend's file discovery reads:
// a list of paths (directories, files, or URLs) to scan, plus an
// explicit map of source id to one or more paths.
type FileConfig struct {
	Paths   []string
	Sources map[string][]string
}

// Discovered is one resolved entry: a candidate source id paired with
// its resolved path (a local path or a URL string).
type Discovered struct {
	ID   string
	Path string
}

// Options configures Discover.
type Options struct {
	Extensions []string // e.g. [".mbtiles"], matched case-insensitively
	ParsesURLs bool     // whether this source type accepts URL paths
	Resolver   *idresolver.Resolver
	Logger     *zap.Logger
}

// DiscoverResult is Discover's return value: the resolved sources plus
// the set of directories that were scanned, for later rescanning.
type DiscoverResult struct {
	Sources     []Discovered
	ScannedDirs []string
}

// Discover resolves opts against cfg: explicit sources are canonicalized
// (unless they're URLs the source type accepts), directories are
// listed non-recursively for matching extensions, bare files are
// included if their extension matches, and everything is passed through
// the ID resolver using its file stem (or last URL path segment) as the
// candidate id. A path seen twice keeps the first occurrence and logs a
// warning for the duplicate.
func Discover(cfg FileConfig, opts Options) (DiscoverResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var result DiscoverResult
	seen := make(map[string]bool)

	addPath := func(candidateID, resolvedPath string) {
		if seen[resolvedPath] {
			logger.Warn("duplicate source path skipped", zap.String("path", resolvedPath))
			return
		}
		seen[resolvedPath] = true
		id := candidateID
		if opts.Resolver != nil {
			id = opts.Resolver.Resolve(candidateID, resolvedPath)
		}
		result.Sources = append(result.Sources, Discovered{ID: id, Path: resolvedPath})
	}

	// Explicit sources are processed in sorted id order so duplicate
	// detection (keep-first) is deterministic run to run.
	ids := make([]string, 0, len(cfg.Sources))
	for id := range cfg.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, p := range cfg.Sources[id] {
			resolved, err := resolvePath(p, opts.ParsesURLs)
			if err != nil {
				return result, fmt.Errorf("resolving source %q: %w", id, err)
			}
			addPath(id, resolved)
		}
	}

	for _, p := range cfg.Paths {
		if isURL(p) {
			if !opts.ParsesURLs {
				return result, fmt.Errorf("path %q is a URL but this source type does not accept URLs", p)
			}
			addPath(stemOf(p), p)
			continue
		}

		info, err := os.Stat(p)
		if err != nil {
			return result, fmt.Errorf("stat %q: %w", p, err)
		}

		if info.IsDir() {
			result.ScannedDirs = append(result.ScannedDirs, p)
			entries, err := os.ReadDir(p)
			if err != nil {
				return result, fmt.Errorf("reading directory %q: %w", p, err)
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				if !hasMatchingExtension(entry.Name(), opts.Extensions) {
					continue
				}
				full := filepath.Join(p, entry.Name())
				addPath(stemOf(entry.Name()), full)
			}
			continue
		}

		if !hasMatchingExtension(p, opts.Extensions) {
			return result, fmt.Errorf("file %q does not match any configured extension", p)
		}
		addPath(stemOf(p), p)
	}

	return result, nil
}

// resolvePath canonicalizes a local path via filepath.Abs, or returns a
// URL unchanged if parsesURLs is true and the path uses a recognized
// scheme.
func resolvePath(p string, parsesURLs bool) (string, error) {
	if isURL(p) {
		if !parsesURLs {
			return "", fmt.Errorf("path %q is a URL but this source type does not accept URLs", p)
		}
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

func isURL(p string) bool {
	u, err := url.Parse(p)
	if err != nil || u.Scheme == "" {
		return false
	}
	return urlSchemes[strings.ToLower(u.Scheme)]
}

// stemOf derives the candidate source id from a local path (the file
// name minus extension) or a URL (its last path segment minus extension).
func stemOf(p string) string {
	if isURL(p) {
		u, err := url.Parse(p)
		if err == nil {
			p = u.Path
		}
	}
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func hasMatchingExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range extensions {
		if strings.ToLower(want) == ext {
			return true
		}
	}
	return false
}

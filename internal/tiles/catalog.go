package tiles

import (
	"net/url"
	"strings"

	"github.com/tileserv/tileserv/internal/tileset"
)

// CatalogEntry is one row of the GET /catalog response.
type CatalogEntry struct {
	ID              string `json:"id"`
	ContentType     string `json:"content_type"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	Name            string `json:"name,omitempty"`
	Description     string `json:"description,omitempty"`
	Attribution     string `json:"attribution,omitempty"`
}

// Catalog renders every registered source into its catalog row, sorted
// by id (Registry.All already returns them that way).
func Catalog(sources []tileset.Source) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(sources))
	for _, s := range sources {
		tj := s.TileJSON()
		info := s.TileInfo()
		out = append(out, CatalogEntry{
			ID:              s.ID(),
			ContentType:     info.Format.ContentType(),
			ContentEncoding: EncodingHeader(info.Encoding),
			Name:            tj.Name,
			Description:     tj.Description,
			Attribution:     tj.Attribution,
		})
	}
	return out
}

// BuildTilesURL implements §4.7's tiles-URL construction rule for the
// TileJSON metadata endpoint: the base path comes from explicit config,
// else the X-Rewrite-URL header, else the request URI itself; "/{z}/{x}/{y}"
// is appended, the request's query string is preserved, and a
// "version" parameter is injected when any constituent source reports
// one.
func BuildTilesURL(explicitBase, rewriteURLHeader, requestURI string, sources []tileset.Source) string {
	base := explicitBase
	if base == "" {
		base = rewriteURLHeader
	}
	if base == "" {
		base = stripQuery(requestURI)
	}
	base = strings.TrimRight(base, "/")

	tilesURL := base + "/{z}/{x}/{y}"

	query := queryOf(requestURI)
	if version := joinedVersion(sources); version != "" {
		if query != "" {
			query += "&version=" + version
		} else {
			query = "version=" + version
		}
	}
	if query != "" {
		tilesURL += "?" + query
	}
	return tilesURL
}

func stripQuery(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

func queryOf(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[i+1:]
	}
	return ""
}

// joinedVersion dash-joins the non-empty TileJSON.Version of every
// constituent source, in request order.
func joinedVersion(sources []tileset.Source) string {
	var versions []string
	for _, s := range sources {
		if v := s.TileJSON().Version; v != "" {
			versions = append(versions, v)
		}
	}
	return strings.Join(versions, "-")
}

// EscapeSourceIDs renders a comma-separated source id list safely
// embedded into a generated tiles URL as one path segment. The id
// resolver does not restrict which characters an id contains, and
// url.PathEscape also escapes the separating commas.
func EscapeSourceIDs(ids string) string {
	return url.PathEscape(ids)
}

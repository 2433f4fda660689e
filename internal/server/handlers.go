package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/tileserv/tileserv/internal/registry"
	"github.com/tileserv/tileserv/internal/tileerr"
	"github.com/tileserv/tileserv/internal/tileset"
	"github.com/tileserv/tileserv/internal/tiles"
)

func (s *Server) registerRoutes() {
	huma.Register(s.humaAPI, huma.Operation{
		OperationID: "getCatalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "List every registered tile source",
		Tags:        []string{"catalog"},
	}, s.catalogHandler)

	huma.Register(s.humaAPI, huma.Operation{
		OperationID: "getTileJSON",
		Method:      http.MethodGet,
		Path:        "/{ids}",
		Summary:     "Merged TileJSON for one or more comma-separated source ids",
		Tags:        []string{"tiles"},
	}, s.tileJSONHandler)

	huma.Register(s.humaAPI, huma.Operation{
		OperationID: "getTile",
		Method:      http.MethodGet,
		Path:        "/{ids}/{z}/{x}/{y}",
		Summary:     "Fetch (and merge/negotiate) a single tile",
		Tags:        []string{"tiles"},
	}, s.tileHandler)

	huma.Register(s.humaAPI, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness probe",
		Tags:        []string{"ops"},
	}, s.healthHandler)

	huma.Register(s.humaAPI, huma.Operation{
		OperationID: "postReload",
		Method:      http.MethodPost,
		Path:        "/reload",
		Summary:     "Re-run source discovery and swap in the new registry",
		Tags:        []string{"ops"},
	}, s.reloadHandler)
}

type emptyInput struct{}

type catalogOutput struct {
	Body []tiles.CatalogEntry
}

func (s *Server) catalogHandler(_ context.Context, _ *emptyInput) (*catalogOutput, error) {
	return &catalogOutput{Body: tiles.Catalog(s.currentRegistry().All())}, nil
}

type tileJSONInput struct {
	IDs        string `path:"ids"`
	RewriteURL string `header:"X-Rewrite-URL"`
}

type tileJSONOutput struct {
	Body tileset.TileJSON
}

func (s *Server) tileJSONHandler(_ context.Context, input *tileJSONInput) (*tileJSONOutput, error) {
	reg := s.currentRegistry()
	sources, err := reg.GetSources(input.IDs, nil)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	if len(sources) == 0 {
		return nil, huma.Error404NotFound("no such source: " + input.IDs)
	}

	requestURI := "/" + tiles.EscapeSourceIDs(input.IDs)
	tilesURL := tiles.BuildTilesURL(s.cfg.BasePath, input.RewriteURL, requestURI, sources)
	return &tileJSONOutput{Body: registry.MergeTileJSON(sources, tilesURL)}, nil
}

type tileInput struct {
	IDs            string `path:"ids"`
	Z              int    `path:"z"`
	X              int    `path:"x"`
	YExt           string `path:"y"`
	AcceptEncoding string `header:"Accept-Encoding"`
	IfNoneMatch    string `header:"If-None-Match"`
}

// tileHandler is registered as a huma.StreamResponse, not a typed JSON
// output, since its body is binary tile bytes (matching the teacher's
// own huma.StreamResponse use for non-JSON bodies).
func (s *Server) tileHandler(_ context.Context, input *tileInput) (*huma.StreamResponse, error) {
	y, _, ok := tiles.ParseYExt(input.YExt)
	if !ok {
		return nil, huma.Error400BadRequest("invalid tile y/extension: " + input.YExt)
	}

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			r, w := humago.Unwrap(humaCtx)
			query := rawQuery(r)
			result, err := s.currentPipeline().GetTile(r.Context(), input.IDs, input.Z, input.X, y, query, input.AcceptEncoding, input.IfNoneMatch)
			if err != nil {
				writeTileError(w, s.logger, err)
				return
			}
			if result.ContentType != "" {
				w.Header().Set("Content-Type", result.ContentType)
			}
			if result.ContentEncoding != "" {
				w.Header().Set("Content-Encoding", result.ContentEncoding)
			}
			if result.ETag != "" {
				w.Header().Set("ETag", result.ETag)
			}
			w.WriteHeader(result.Status)
			if len(result.Body) > 0 {
				w.Write(result.Body)
			}
		},
	}, nil
}

// rawQuery converts a request's query string into the flat
// map[string]string a FunctionSource's query argument expects, taking
// the first value of any repeated parameter.
func rawQuery(r *http.Request) map[string]string {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// writeTileError maps the tileerr taxonomy onto the HTTP status codes
// §7 assigns, logging the underlying cause once.
func writeTileError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	var notFound *tileerr.NotFound
	var badCoord *tileerr.BadCoordinate
	var incompatible *tileerr.IncompatibleMerge
	var unavailable *tileerr.BackendUnavailable
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &badCoord), errors.As(err, &incompatible):
		status = http.StatusBadRequest
	case errors.As(err, &unavailable):
		status = http.StatusServiceUnavailable
	}
	logger.Error("tile request failed", zap.Error(err), zap.Int("status", status))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(err.Error()))
}

type healthOutput struct {
	CacheControl string `header:"Cache-Control"`
	Body         string
}

func (s *Server) healthHandler(_ context.Context, _ *emptyInput) (*healthOutput, error) {
	return &healthOutput{CacheControl: "no-cache", Body: "OK"}, nil
}

type reloadOutput struct {
	Body struct {
		Status  string `json:"status"`
		Sources int    `json:"sources"`
	}
}

func (s *Server) reloadHandler(ctx context.Context, _ *emptyInput) (*reloadOutput, error) {
	if err := s.Reload(ctx); err != nil {
		return nil, huma.Error500InternalServerError("reload failed", err)
	}
	out := &reloadOutput{}
	out.Body.Status = "reloaded"
	out.Body.Sources = len(s.currentRegistry().All())
	return out, nil
}

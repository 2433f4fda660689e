// Package server wires a Registry, a Cache and the tile pipeline into a
// huma-based HTTP API: GET /catalog, GET /{ids} (TileJSON), GET
// /{ids}/{z}/{x}/{y}, GET /health and POST /reload.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/CAFxX/httpcompression"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/tileserv/tileserv/internal/cache"
	"github.com/tileserv/tileserv/internal/config"
	"github.com/tileserv/tileserv/internal/registry"
	"github.com/tileserv/tileserv/internal/tiles"
	"github.com/tileserv/tileserv/internal/tileset"
)

// Config holds the server's runtime configuration.
type Config struct {
	Host              string
	Port              int
	BasePath          string
	CORS              config.CORSConfig
	PreferredEncoding tileset.Encoding
}

// Server is the tileserv HTTP server: a huma API mounted on a
// net/http.ServeMux, wrapped with compression and CORS middleware.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	humaAPI huma.API
	handler http.Handler

	cache    *cache.Cache
	registry atomic.Pointer[registry.Registry]
	pipeline atomic.Pointer[tiles.Pipeline]

	rebuild func(context.Context) (*Built, error)

	mu      sync.Mutex
	closers []io.Closer
}

// New builds a Server. rebuild is called once immediately (to populate
// the initial Registry) and again on every Reload.
func New(ctx context.Context, cfg Config, c *cache.Cache, logger *zap.Logger, rebuild func(context.Context) (*Built, error)) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.New(cache.Options{})
	}

	s := &Server{cfg: cfg, logger: logger, cache: c, rebuild: rebuild}

	built, err := rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("building initial registry: %w", err)
	}
	s.adopt(built)

	mux := http.NewServeMux()
	humaConfig := huma.DefaultConfig("tileserv API", "1.0.0")
	humaConfig.Info.Description = "Vector tile serving engine: MBTiles, PMTiles and PostGIS sources behind one HTTP tile API."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port), Description: "Local server"},
	}
	s.humaAPI = humago.New(mux, humaConfig)
	s.registerRoutes()

	compress, err := httpcompression.DefaultAdapter()
	if err != nil {
		return nil, fmt.Errorf("building compression adapter: %w", err)
	}
	s.handler = corsMiddleware(cfg.CORS, compress(mux))

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI exposes the generated spec, for the `spec` CLI subcommand.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

func (s *Server) currentRegistry() *registry.Registry { return s.registry.Load() }
func (s *Server) currentPipeline() *tiles.Pipeline     { return s.pipeline.Load() }

// adopt installs built's registry as current, builds the Pipeline
// around it and the server's shared Cache, and records its closers for
// a later Reload/Close.
func (s *Server) adopt(built *Built) {
	s.registry.Store(built.Registry)
	s.pipeline.Store(&tiles.Pipeline{
		Registry:          built.Registry,
		Cache:             s.cache,
		PreferredEncoding: s.cfg.PreferredEncoding,
	})
	s.mu.Lock()
	s.closers = built.Closers
	s.mu.Unlock()
}

// Reload re-runs file discovery and PostgreSQL auto-discovery, swaps in
// the freshly built Registry, and closes the previous one's backend
// resources. In-flight requests against the old Registry complete
// normally since GetTile only ever holds a Source reference it already
// resolved from the Registry it was handed.
func (s *Server) Reload(ctx context.Context) error {
	built, err := s.rebuild(ctx)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	s.mu.Lock()
	old := s.closers
	s.mu.Unlock()

	s.adopt(built)

	for _, c := range old {
		if err := c.Close(); err != nil {
			s.logger.Warn("error closing replaced source", zap.Error(err))
		}
	}
	return nil
}

// Close shuts down every backend resource the current Registry holds.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package server

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tileserv/tileserv/internal/config"
	"github.com/tileserv/tileserv/internal/filediscovery"
	"github.com/tileserv/tileserv/internal/idresolver"
	"github.com/tileserv/tileserv/internal/mbtiles"
	"github.com/tileserv/tileserv/internal/pg"
	"github.com/tileserv/tileserv/internal/pmtiles"
	"github.com/tileserv/tileserv/internal/registry"
	"github.com/tileserv/tileserv/internal/tileset"
)

// defaultMinZoom/defaultMaxZoom bound a discovered table/function's
// TileJSON pyramid when nothing narrower is known.
const (
	defaultMinZoom = 0
	defaultMaxZoom = 22
)

// defaultIDCandidates are the column names InferIDColumn tries after
// auto_publish.tables.id_columns and before the postgres-level
// id_columns list, in martin's own order of preference.
var defaultIDCandidates = []string{"id", "gid", "ogc_fid"}

// pmtilesDirectoryCacheBytes bounds the shared PMTiles directory page
// cache every discovered PMTiles source's Reader shares.
const pmtilesDirectoryCacheBytes = 16 << 20

// Built is the result of assembling one Registry from a Config: the
// registry itself plus every backend resource (pools, file handles,
// readers) that must be closed when the registry is replaced or the
// server shuts down.
type Built struct {
	Registry *registry.Registry
	Closers  []io.Closer
}

// BuildRegistry resolves cfg's postgres/pmtiles/mbtiles sections into a
// concrete Registry: opens each PostgreSQL pool and runs auto-discovery
// per its resolved auto_publish policy, scans the configured
// file-discovery paths for MBTiles and PMTiles archives, and runs every
// candidate source id through one idresolver.Resolver shared by all
// backends of this build, so ids are collision-free across backends.
// Each call starts a fresh Resolver; a /reload that rediscovers the same
// sources in the same order assigns the same ids.
func BuildRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Built, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := idresolver.New(logger)

	var sources []tileset.Source
	var closers []io.Closer
	ok := false
	defer func() {
		if !ok {
			for _, c := range closers {
				c.Close()
			}
		}
	}()

	for i := range cfg.Postgres {
		pgCfg := cfg.Postgres[i]
		pool, err := pg.Open(ctx, pg.PoolConfig{ConnString: pgCfg.ConnectionString, MaxConns: pgCfg.PoolSize}, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres[%d]: %w", i, err)
		}
		closers = append(closers, closerFunc(func() error { pool.Close(); return nil }))

		discovered, err := buildPostgresSources(ctx, pool, pgCfg, resolver, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres[%d]: %w", i, err)
		}
		sources = append(sources, discovered...)
	}

	mbSources, mbClosers, err := buildFileSources(cfg.MBTiles, []string{".mbtiles"}, resolver, logger, openMBTiles)
	if err != nil {
		return nil, fmt.Errorf("mbtiles discovery: %w", err)
	}
	sources = append(sources, mbSources...)
	closers = append(closers, mbClosers...)

	dirCache := pmtiles.NewDirectoryCache(pmtilesDirectoryCacheBytes)
	pmtSources, pmtClosers, err := buildFileSources(cfg.PMTiles, []string{".pmtiles"}, resolver, logger, openPMTilesFactory(ctx, dirCache))
	if err != nil {
		return nil, fmt.Errorf("pmtiles discovery: %w", err)
	}
	sources = append(sources, pmtSources...)
	closers = append(closers, pmtClosers...)

	ok = true
	return &Built{Registry: registry.New(sources), Closers: closers}, nil
}

// buildPostgresSources applies pgCfg's auto_publish policy against one
// opened pool: discovering tables and/or functions, inferring each
// table's id column, resolving its TileJSON bounds, and wrapping both
// in their tileset.Source adapters.
func buildPostgresSources(ctx context.Context, pool *pg.Pool, pgCfg config.PostgresConfig, resolver *idresolver.Resolver, logger *zap.Logger) ([]tileset.Source, error) {
	resolved := pg.ResolvePublish(config.ToPgAutoPublish(pgCfg.AutoPublish))
	boundsMode := boundsModeOf(pgCfg.AutoBounds)

	var sources []tileset.Source

	if resolved.PublishTables {
		schemas := resolved.Tables.FromSchemas
		if len(schemas) == 0 {
			schemas = []string{"public"}
		}
		tables, err := pg.DiscoverTables(ctx, pool, schemas)
		if err != nil {
			return nil, fmt.Errorf("discovering tables: %w", err)
		}
		candidates := append(append([]string{}, resolved.Tables.IDColumns...), defaultIDCandidates...)
		candidates = append(candidates, pgCfg.IDColumns...)

		for _, table := range tables {
			if !table.IsView && !table.GeomIndexExists {
				logger.Warn("geometry table has no GIST index, tile queries may be slow",
					zap.String("table", table.Schema+"."+table.Table))
			}
			if table.SRID == 0 {
				if pgCfg.DefaultSRID != 0 {
					table.SRID = pgCfg.DefaultSRID
				} else {
					table.SRID = pg.WGS84SRID
				}
			}
			pg.InferIDColumn(&table, candidates)
			bounds := pg.ResolveBounds(ctx, pool, table, boundsMode, logger)

			requestedID := pg.FormatTableSourceID(resolved.Tables.SourceIDFormat, table)
			id := resolver.Resolve(requestedID, table.Schema+"."+table.Table)

			spec := pg.TableQuerySpec{
				Properties:    sortedColumnNames(table.Columns),
				ClipGeom:      true,
				PostGIS31Plus: pool.SupportsTileEnvelopeMargin(),
			}
			src := pg.NewTableSource(id, pool, table, spec, defaultMinZoom, defaultMaxZoom, bounds)
			sources = append(sources, src)
		}
	}

	if resolved.PublishFunctions {
		schemas := resolved.Functions.FromSchemas
		if len(schemas) == 0 {
			schemas = []string{"public"}
		}
		functions, err := pg.DiscoverFunctions(ctx, pool, schemas)
		if err != nil {
			return nil, fmt.Errorf("discovering functions: %w", err)
		}
		for _, fn := range functions {
			requestedID := pg.FormatFunctionSourceID(resolved.Functions.SourceIDFormat, fn)
			id := resolver.Resolve(requestedID, fn.Schema+"."+fn.Function)
			src := pg.NewFunctionSource(id, pool, fn, defaultMinZoom, defaultMaxZoom, pg.WorldBounds)
			sources = append(sources, src)
		}
	}

	return sources, nil
}

func sortedColumnNames(cols map[string]string) []string {
	out := make([]string, 0, len(cols))
	for name := range cols {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func boundsModeOf(s string) pg.BoundsMode {
	switch strings.ToLower(s) {
	case "skip":
		return pg.BoundsSkip
	case "calc":
		return pg.BoundsCalc
	default:
		return pg.BoundsQuick
	}
}

// fileSourceOpener opens one discovered file/URL path as a
// tileset.Source.
type fileSourceOpener func(id, path string) (tileset.Source, io.Closer, error)

func buildFileSources(cfg config.FileConfig, extensions []string, resolver *idresolver.Resolver, logger *zap.Logger, open fileSourceOpener) ([]tileset.Source, []io.Closer, error) {
	if len(cfg.Paths) == 0 && len(cfg.Sources) == 0 {
		return nil, nil, nil
	}
	result, err := filediscovery.Discover(
		filediscovery.FileConfig{Paths: cfg.Paths, Sources: cfg.Sources},
		filediscovery.Options{Extensions: extensions, ParsesURLs: true, Resolver: resolver, Logger: logger},
	)
	if err != nil {
		return nil, nil, err
	}

	var sources []tileset.Source
	var closers []io.Closer
	for _, d := range result.Sources {
		src, closer, err := open(d.ID, d.Path)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, fmt.Errorf("opening %s (%s): %w", d.ID, d.Path, err)
		}
		sources = append(sources, src)
		if closer != nil {
			closers = append(closers, closer)
		}
	}
	return sources, closers, nil
}

func openMBTiles(id, path string) (tileset.Source, io.Closer, error) {
	handle, err := mbtiles.Open(path, nil)
	if err != nil {
		return nil, nil, err
	}
	src, err := mbtiles.NewSource(id, handle)
	if err != nil {
		handle.Close()
		return nil, nil, err
	}
	return src, handle, nil
}

func openPMTilesFactory(ctx context.Context, dirCache *pmtiles.DirectoryCache) fileSourceOpener {
	return func(id, path string) (tileset.Source, io.Closer, error) {
		backend, err := openPMTilesBackend(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		reader, err := pmtiles.OpenReader(ctx, path, backend, dirCache)
		if err != nil {
			backend.Close()
			return nil, nil, err
		}
		src, err := pmtiles.NewSource(ctx, id, reader)
		if err != nil {
			reader.Close()
			return nil, nil, err
		}
		return src, reader, nil
	}
}

func openPMTilesBackend(ctx context.Context, path string) (pmtiles.Backend, error) {
	if bucket, key, ok := pmtiles.ParseS3URL(path); ok {
		return pmtiles.OpenS3(ctx, bucket, key)
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return pmtiles.OpenHTTP(path, nil), nil
	}
	return pmtiles.OpenLocal(path)
}

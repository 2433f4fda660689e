package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tileserv/tileserv/internal/tileerr"
)

// DefaultPoolSize is the connection pool's default max size.
const DefaultPoolSize = 20

// checkoutWarnThreshold is how long an Acquire may block before logging
// a warning that suggests missing GIS indexes or --auto-bounds=skip.
const checkoutWarnThreshold = 5 * time.Second

// MinPostGISMajor is the lowest PostGIS major version this engine will
// serve against; anything older fails Pool construction outright.
const MinPostGISMajor = 3

// tileEnvelopeMarginMajor/Minor is the PostGIS version that introduced
// ST_TileEnvelope's margin parameter (3.1).
const (
	tileEnvelopeMarginMajor = 3
	tileEnvelopeMarginMinor = 1
)

// Pool wraps a pgxpool.Pool with the checkout-latency warning and
// startup PostGIS version gate every table/function source shares.
type Pool struct {
	raw          *pgxpool.Pool
	logger       *zap.Logger
	postgisMajor int
	postgisMinor int
}

// SupportsTileEnvelopeMargin reports whether the connected server's
// PostGIS version is at least 3.1, the version that added
// ST_TileEnvelope's margin => parameter (§4.5.3's margin-aware bbox
// fast path).
func (p *Pool) SupportsTileEnvelopeMargin() bool {
	if p.postgisMajor > tileEnvelopeMarginMajor {
		return true
	}
	return p.postgisMajor == tileEnvelopeMarginMajor && p.postgisMinor >= tileEnvelopeMarginMinor
}

// PoolConfig configures Open.
type PoolConfig struct {
	ConnString string
	MaxConns   int32 // 0 = DefaultPoolSize
}

// Open establishes the pool, verifies connectivity, and rejects a
// server whose postgis_full_version() reports a major version below
// MinPostGISMajor.
func Open(ctx context.Context, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnString == "" {
		return nil, &tileerr.Config{Field: "postgres.connection_string", Reason: "must not be empty"}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, &tileerr.Config{Field: "postgres.connection_string", Reason: err.Error()}
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultPoolSize
	}
	poolCfg.MaxConns = maxConns

	raw, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}

	p := &Pool{raw: raw, logger: logger}
	if err := p.checkPostGISVersion(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pool) checkPostGISVersion(ctx context.Context) error {
	conn, err := p.acquireTimed(ctx, "startup_version_check")
	if err != nil {
		return err
	}
	defer conn.Release()

	var version string
	if err := conn.QueryRow(ctx, "SELECT postgis_full_version()").Scan(&version); err != nil {
		return fmt.Errorf("querying postgis_full_version: %w", err)
	}
	major, minor, ok := parsePostGISMajorMinor(version)
	if !ok {
		return &tileerr.Config{Field: "postgres", Reason: "could not parse postgis_full_version() output: " + version}
	}
	if major < MinPostGISMajor {
		return &tileerr.Config{Field: "postgres", Reason: fmt.Sprintf("PostGIS %d.x is too old, need >= %d.0", major, MinPostGISMajor)}
	}
	p.postgisMajor, p.postgisMinor = major, minor
	return nil
}

// parsePostGISMajorMinor extracts "POSTGIS=\"3.3.2\""-style output's
// leading major.minor. Tolerant of surrounding text since
// postgis_full_version()'s format varies across builds.
func parsePostGISMajorMinor(full string) (major, minor int, ok bool) {
	start := -1
	for i, r := range full {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, 0, false
	}
	var parts [2]int
	partIdx, cur, sawDigit := 0, 0, false
	for _, r := range full[start:] {
		switch {
		case r >= '0' && r <= '9':
			cur = cur*10 + int(r-'0')
			sawDigit = true
		case r == '.' && partIdx < 1:
			parts[partIdx] = cur
			partIdx++
			cur = 0
		default:
			if sawDigit {
				parts[partIdx] = cur
			}
			return parts[0], parts[1], sawDigit
		}
	}
	if sawDigit {
		parts[partIdx] = cur
	}
	return parts[0], parts[1], sawDigit
}

// acquireTimed acquires a connection, logging a warning if the checkout
// takes longer than checkoutWarnThreshold — a slow checkout usually
// means exhausted pool capacity from missing GIS indexes forcing slow
// queries to hold connections longer than they should.
func (p *Pool) acquireTimed(ctx context.Context, op string) (*pgxpool.Conn, error) {
	start := time.Now()
	conn, err := p.raw.Acquire(ctx)
	if waited := time.Since(start); waited > checkoutWarnThreshold {
		p.logger.Warn("slow postgres pool checkout",
			zap.String("op", op),
			zap.Duration("waited", waited),
			zap.String("hint", "check for missing GIST indexes on geometry columns, or pass --auto-bounds=skip"),
		)
	}
	if err != nil {
		return nil, &tileerr.BackendUnavailable{Source: "postgres", Cause: err}
	}
	return conn, nil
}

// Acquire checks out a connection for a caller-supplied operation name,
// used in log messages if the checkout is slow.
func (p *Pool) Acquire(ctx context.Context, op string) (*pgxpool.Conn, error) {
	return p.acquireTimed(ctx, op)
}

// Raw exposes the underlying pgxpool.Pool for callers that need direct
// access (prepared-statement caching via pgx's own mechanism).
func (p *Pool) Raw() *pgxpool.Pool { return p.raw }

// Close shuts down the pool.
func (p *Pool) Close() { p.raw.Close() }

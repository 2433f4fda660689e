package mbtiles

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tileserv/tileserv/internal/tileerr"
)

// busyRetryBudget is the maximum time spent retrying SQLITE_BUSY before
// giving up.
const busyRetryBudget = 5 * time.Second

// driverName is the sqlite3 driver variant every connection in this
// package opens: plain sqlite3 extended with an md5_hex() SQL function,
// which the copier's schema-conversion INSERT-SELECTs use to derive
// tile_hash/tile_id inside the database.
const driverName = "sqlite3_mbtiles"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("md5_hex", func(data []byte) string {
				sum := md5.Sum(data)
				return hex.EncodeToString(sum[:])
			}, true)
		},
	})
}

// Handle is a shared, read-mostly handle on one MBTiles file. It is
// immutable after Open.
type Handle struct {
	Path   string
	Schema Schema
	db     *sql.DB
	logger *zap.Logger
}

// Open opens path as a SQLite database and detects its schema.
func Open(path string, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open(driverName, path+"?_busy_timeout=5000")
	if err != nil {
		return nil, &tileerr.CorruptFile{Path: path, Cause: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &tileerr.CorruptFile{Path: path, Cause: err}
	}

	schema, err := DetectSchema(db)
	if err != nil {
		db.Close()
		return nil, &tileerr.CorruptFile{Path: path, Cause: err}
	}

	return &Handle{Path: path, Schema: schema, db: db, logger: logger}, nil
}

// Create opens (creating if needed) path and initializes it with the
// given schema type if it has no schema yet.
func Create(path string, schemaType SchemaType, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open(driverName, path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := InitSchema(db, schemaType); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema in %s: %w", path, err)
	}
	schema, err := DetectSchema(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("detecting schema in %s: %w", path, err)
	}
	return &Handle{Path: path, Schema: schema, db: db, logger: logger}, nil
}

// DB exposes the underlying *sql.DB for the copier/differ/patcher, which
// need raw cross-database SQL (ATTACH DATABASE) that doesn't fit a
// narrower interface.
func (h *Handle) DB() *sql.DB { return h.db }

func (h *Handle) Close() error { return h.db.Close() }

// withBusyRetry retries fn while it fails with SQLITE_BUSY, using
// exponential backoff up to busyRetryBudget total — a concurrent writer
// is retried rather than surfaced as a failure until that budget runs out.
func withBusyRetry(ctx context.Context, fn func() error) error {
	backoff := 10 * time.Millisecond
	deadline := time.Now().Add(busyRetryBudget)
	for {
		err := fn()
		if err == nil || !isBusyError(err) || time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func isBusyError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "database is locked")
}

var errNoRows = sql.ErrNoRows

func wrapBackendErr(source string, err error) error {
	if err == nil || errors.Is(err, errNoRows) {
		return err
	}
	return &tileerr.Backend{Source: source, Cause: err}
}

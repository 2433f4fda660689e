// Package config loads tileserv's YAML configuration file, mirroring
// martin's `postgres:`/`pmtiles:`/`mbtiles:`/`srv:` shape, with
// `${VAR}` / `${VAR:-default}` environment substitution applied to the
// raw file before parsing.
package config

// Config is the root of the YAML configuration file.
type Config struct {
	Postgres []PostgresConfig `yaml:"postgres,omitempty"`
	PMTiles  FileConfig       `yaml:"pmtiles,omitempty"`
	MBTiles  FileConfig       `yaml:"mbtiles,omitempty"`
	Srv      SrvConfig        `yaml:"srv,omitempty"`
}

// PostgresConfig configures one PostGIS connection pool and its
// auto-discovery policy.
type PostgresConfig struct {
	ConnectionString string             `yaml:"connection_string,omitempty"`
	PoolSize         int32              `yaml:"pool_size,omitempty"`
	DefaultSRID      int                `yaml:"default_srid,omitempty"`
	AutoBounds       string             `yaml:"auto_bounds,omitempty"` // skip|calc|quick
	IDColumns        []string           `yaml:"id_columns,omitempty"`
	AutoPublish      *AutoPublishConfig `yaml:"auto_publish,omitempty"`
}

// FileConfig configures one of the PMTiles/MBTiles file-discovery
// scans: a set of directories/files/URLs to walk, plus an explicit
// id -> path(s) map, matching internal/filediscovery.FileConfig.
type FileConfig struct {
	Paths   []string            `yaml:"paths,omitempty"`
	Sources map[string][]string `yaml:"sources,omitempty"`
}

// PublishTablesConfig mirrors pg.PublishTables.
type PublishTablesConfig struct {
	FromSchemas    []string `yaml:"from_schemas,omitempty"`
	SourceIDFormat string   `yaml:"source_id_format,omitempty"`
	IDColumns      []string `yaml:"id_columns,omitempty"`
}

// PublishFunctionsConfig mirrors pg.PublishFunctions.
type PublishFunctionsConfig struct {
	FromSchemas    []string `yaml:"from_schemas,omitempty"`
	SourceIDFormat string   `yaml:"source_id_format,omitempty"`
}

// AutoPublishConfig holds the `auto_publish: bool | {tables, functions}`
// union; see UnmarshalYAML in autopublish.go for how either shape is
// accepted.
type AutoPublishConfig struct {
	Enabled   *bool
	Tables    *PublishTablesConfig
	Functions *PublishFunctionsConfig
}

// CORSConfig configures the cross-origin headers the tile pipeline
// applies (§C.2 of SPEC_FULL.md — a feature original martin config
// carries that the distilled spec.md does not mention by name).
type CORSConfig struct {
	Origins       []string `yaml:"origins,omitempty"`
	Methods       []string `yaml:"methods,omitempty"`
	Headers       []string `yaml:"headers,omitempty"`
	MaxAgeSeconds int      `yaml:"max_age,omitempty"`
}

// SrvConfig configures the HTTP server: bind address, cache sizing,
// encoding preference, base URL override, worker pool size, and CORS.
type SrvConfig struct {
	Listen            string     `yaml:"listen,omitempty"`
	BasePath          string     `yaml:"base_path,omitempty"`
	CacheSizeMB       int        `yaml:"cache_size_mb,omitempty"`
	PreferredEncoding string     `yaml:"preferred_encoding,omitempty"` // brotli|gzip
	WorkerProcesses   int        `yaml:"worker_processes,omitempty"`
	KeepAliveSeconds  int        `yaml:"keep_alive,omitempty"`
	CORS              CORSConfig `yaml:"cors,omitempty"`
}

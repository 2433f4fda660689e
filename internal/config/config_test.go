package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandEnvSubstitutesVarAndDefault(t *testing.T) {
	t.Setenv("TILESERV_TEST_HOST", "db.example.com")
	os.Unsetenv("TILESERV_TEST_MISSING")

	out := ExpandEnv("postgres://${TILESERV_TEST_HOST}:${TILESERV_TEST_MISSING:-5432}/gis")
	require.Equal(t, "postgres://db.example.com:5432/gis", out)
}

func TestLoadParsesYAMLAndExpandsEnv(t *testing.T) {
	t.Setenv("TILESERV_TEST_DSN", "postgres://localhost/gis")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
postgres:
  - connection_string: ${TILESERV_TEST_DSN}
    pool_size: 10
    auto_publish: true
mbtiles:
  paths:
    - /data/tiles
srv:
  listen: 0.0.0.0:3000
  cache_size_mb: 512
  preferred_encoding: brotli
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Postgres, 1)
	require.Equal(t, "postgres://localhost/gis", cfg.Postgres[0].ConnectionString)
	require.EqualValues(t, 10, cfg.Postgres[0].PoolSize)
	require.NotNil(t, cfg.Postgres[0].AutoPublish.Enabled)
	require.True(t, *cfg.Postgres[0].AutoPublish.Enabled)
	require.Equal(t, []string{"/data/tiles"}, cfg.MBTiles.Paths)
	require.Equal(t, "0.0.0.0:3000", cfg.Srv.Listen)
	require.Equal(t, 512, cfg.Srv.CacheSizeMB)
}

func TestAutoPublishUnmarshalsObjectShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
postgres:
  - connection_string: postgres://localhost/gis
    auto_publish:
      tables:
        from_schemas: [public]
        source_id_format: "{schema}.{table}"
      functions:
        from_schemas: [public]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	ap := cfg.Postgres[0].AutoPublish
	require.Nil(t, ap.Enabled)
	require.NotNil(t, ap.Tables)
	require.Equal(t, []string{"public"}, ap.Tables.FromSchemas)
	require.NotNil(t, ap.Functions)

	resolved := ToPgAutoPublish(ap)
	require.Equal(t, []string{"public"}, resolved.Tables.FromSchemas)
}

func TestApplyEnvFillsConnectionStringFromDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/gis")
	cfg := &Config{Postgres: []PostgresConfig{{}}}
	ApplyEnv(cfg, nil)
	require.Equal(t, "postgres://env-host/gis", cfg.Postgres[0].ConnectionString)
}

func TestApplyEnvDoesNotOverrideExplicitConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env-host/gis")
	cfg := &Config{Postgres: []PostgresConfig{{ConnectionString: "postgres://file-host/gis"}}}
	ApplyEnv(cfg, nil)
	require.Equal(t, "postgres://file-host/gis", cfg.Postgres[0].ConnectionString)
}

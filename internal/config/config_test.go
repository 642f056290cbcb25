package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog:\n  fixture_path: c.yaml\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "fixture", cfg.Catalog.Source)
	assert.Equal(t, 100, cfg.Catalog.RolloutPercentage)
	assert.Equal(t, int64(3_600_000), cfg.Catalog.NextPingMillis)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval())
	assert.Equal(t, 5*time.Second, cfg.Backoff())
}

func TestLoadFile_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9000\"\n"), 0o600))
	t.Setenv("APP_SERVER_ADDR", ":7000")
	t.Setenv("APP_CATALOG_SOURCE", "fixture")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "fixture", cfg.Catalog.Source)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	var cfg Config
	cfg.Postgres.User = "u"
	cfg.Postgres.Password = "p"
	cfg.Postgres.Host = "db"
	validate(&cfg)
	cfg.Postgres.DBName = "inapp"
	assert.Equal(t, "postgres://u:p@db:5432/inapp?sslmode=disable", cfg.DSN())
	assert.Equal(t, "postgres", cfg.Catalog.Source)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aurora.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/aurora.db", cfg.Database.DSN)
	assert.Equal(t, 30*time.Second, cfg.Fetcher.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Icons.Timeout)
	assert.Equal(t, 50, cfg.Scheduler.HistoryLimit)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_AURORA_DSN", "postgres://u:p@localhost/aurora?sslmode=disable")
	path := writeConfig(t, `
database:
  driver: Postgres
  dsn: ${TEST_AURORA_DSN}
fetcher:
  timeout: 5s
scheduler:
  sweep_concurrency: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost/aurora?sslmode=disable", cfg.Database.DSN)
	assert.Equal(t, 5*time.Second, cfg.Fetcher.Timeout)
	assert.Equal(t, 4, cfg.Scheduler.SweepConcurrency)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("AURORA_ADDR", "0.0.0.0:9000")
	path := writeConfig(t, "server:\n  addr: 127.0.0.1:1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: mysql\n  dsn: x\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_PostgresNeedsDSN(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: postgres\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "server: [")
	_, err := Load(path)
	require.Error(t, err)
}

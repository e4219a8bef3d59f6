package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/aurora/internal/apperr"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "aurora.db") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFeedsAddAndList(t *testing.T) {
	config := writeConfig(t)

	out, err := run(t, "--config", config, "feeds", "add", "https://example.com/feed.xml", "--title", "Example")
	require.NoError(t, err)
	assert.Contains(t, out, "Added Example")

	out, err = run(t, "--config", config, "feeds", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Example")
	assert.Contains(t, out, "never")

	_, err = run(t, "--config", config, "feeds", "add", "not a url")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestTasks(t *testing.T) {
	config := writeConfig(t)

	out, err := run(t, "--config", config, "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "feed_refresh")
	assert.Contains(t, out, "0 0 2 * * *")

	out, err = run(t, "--config", config, "tasks", "run", "health-check")
	require.NoError(t, err)
	assert.Contains(t, out, "Database: OK")

	_, err = run(t, "--config", config, "tasks", "run", "reboot")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFeedsResetUnknown(t *testing.T) {
	config := writeConfig(t)
	_, err := run(t, "--config", config, "feeds", "reset", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

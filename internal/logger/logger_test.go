package logger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "aurora.log")
	l, err := New(Config{Level: "debug", Encoding: "json", File: path})
	require.NoError(t, err)
	l.Info("hello", "k", "v")
	_ = l.Sync()
	assert.FileExists(t, path)
}

func TestFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{z: zap.New(core)}

	l.With("component", "test").Warn("fetch failed", "feed_id", "abc", "error", errors.New("boom"), "dangling")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	ctx := entry.ContextMap()
	assert.Equal(t, "fetch failed", entry.Message)
	assert.Equal(t, "test", ctx["component"])
	assert.Equal(t, "abc", ctx["feed_id"])
	assert.Equal(t, "boom", ctx["error"])
	assert.Contains(t, ctx, "dangling")
}

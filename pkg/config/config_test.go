package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, ShareManual, cfg.Share.Mode)
	assert.Equal(t, "@every 5m", cfg.Stats.Schedule)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  backend: redis
  redis:
    addr: localhost:6379
    prefix: "test:"
share:
  mode: auto
stats:
  schedule: "@every 1h"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Storage.Backend)
	assert.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "test:", cfg.Storage.Redis.Prefix)
	assert.Equal(t, ShareAuto, cfg.Share.Mode)
	assert.Equal(t, "@every 1h", cfg.Stats.Schedule)
	// Absent fields keep defaults.
	assert.Equal(t, Default().Share.BaseURL, cfg.Share.BaseURL)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [broken"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestOpenBackend(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		b, err := OpenBackend(context.Background(), StorageConfig{Backend: "file", BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NoError(t, b.Close())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := OpenBackend(context.Background(), StorageConfig{Backend: "tape"})
		assert.Error(t, err)
	})
}

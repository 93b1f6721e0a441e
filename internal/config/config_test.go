package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Executor.MaxConcurrent, cfg.Executor.MaxConcurrent)
	assert.NotEmpty(t, cfg.Store.Root)
}

func TestLoadOverlaysTOMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(`
[executor]
max_concurrent = 8

[dispatch]
nats_url = "nats://example:4222"
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Executor.MaxConcurrent)
	assert.Equal(t, "nats://example:4222", cfg.Dispatch.NATSUrl)
	// untouched sections keep their default values
	assert.Equal(t, Default().Sandbox.IsolateBin, cfg.Sandbox.IsolateBin)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoke.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filter_visibility: false\nmessage_limit: 40\ncache_size: 8\n"), 0o600))
	t.Setenv("INVOKE_MESSAGE_LIMIT", "12")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.FilterVisibility)
	assert.Equal(t, 8, cfg.CacheSize)
	assert.Equal(t, 12, cfg.MessageLimit)
	assert.True(t, cfg.CacheSafeActions, "unset keys keep their defaults")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	t.Setenv("INVOKE_CACHE_SIZE", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "parse env:")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.MessageLimit = 0
	assert.Error(t, cfg.Validate())
	cfg = Default()
	cfg.CacheSize = -1
	assert.Error(t, cfg.Validate())
}

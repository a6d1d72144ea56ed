package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := loadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Defaults.Verbose)
	assert.Nil(t, cfg.Defaults.CoeLimit)
}

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[defaults]
verbose = 2
coe_limit = 16
intio = true
noxfer = false
`), 0o644))

	cfg, err := loadFrom(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Defaults.Verbose)
	assert.Equal(t, 2, *cfg.Defaults.Verbose)
	require.NotNil(t, cfg.Defaults.CoeLimit)
	assert.Equal(t, 16, *cfg.Defaults.CoeLimit)
	require.NotNil(t, cfg.Defaults.IntIO)
	assert.True(t, *cfg.Defaults.IntIO)
	require.NotNil(t, cfg.Defaults.NoXfer)
	assert.False(t, *cfg.Defaults.NoXfer)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid"), 0o644))
	_, err := loadFrom(path)
	assert.Error(t, err)
}

func TestPathRespectsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	assert.Equal(t, "/tmp/xdg-test/ddpt/config.toml", Path())
}

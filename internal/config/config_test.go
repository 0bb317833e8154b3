package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30.0, cfg.Segmentation.Threshold)
	assert.Equal(t, 1.0, cfg.Segmentation.BlurRadius)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxSize)
	assert.Contains(t, cfg.Upload.AllowedExtensions, "webp")
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  addr: ":9090"
segmentation:
  threshold: 45.5
providers:
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 45.5, cfg.Segmentation.Threshold)
	assert.Equal(t, "5s", cfg.Providers.Timeout.String())
	// Untouched keys keep their defaults.
	assert.Equal(t, 1.0, cfg.Segmentation.BlurRadius)
	assert.Equal(t, "remove.bg", cfg.Providers.Default)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
segmentation:
  threshold: -1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNewFallsBackToDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.Chdir(t.TempDir()))

	cfg := New()
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

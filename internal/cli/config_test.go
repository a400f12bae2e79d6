package cli

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pmc/internal/registry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pmc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, []string{"renderscript", "pmruntime"}, cfg.Backends)
	assert.Equal(t, "generated", cfg.Output)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, ".pmc/cache.db", cfg.Cache)
}

func TestLoadConfigMissingOptional(t *testing.T) {
	t.Setenv(CacheEnv, "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigMissingRequired(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	t.Setenv(CacheEnv, "")
	path := writeConfig(t, `
backends: [pmruntime]
output: out
workers: 2
tile_size: 64
library: native
user_library: com.example.lib
instance: w
`)
	cfg, err := LoadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"pmruntime"}, cfg.Backends)
	assert.Equal(t, "out", cfg.Output)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 64, cfg.TileSize)
	assert.Equal(t, ".pmc/cache.db", cfg.Cache)

	opts := cfg.LowerOptions()
	assert.Equal(t, 64, opts.TileSize)
	assert.Equal(t, "native", opts.Library)
	assert.Equal(t, "com.example.lib", opts.UserLibrary)
	assert.Equal(t, "w", opts.Instance)
}

func TestLoadConfigCacheEnv(t *testing.T) {
	t.Setenv(CacheEnv, "/tmp/elsewhere.db")
	path := writeConfig(t, "cache: local.db\n")

	cfg, err := LoadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere.db", cfg.Cache)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "backend: renderscript\n")
	_, err := LoadConfig(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown backend", "backends: [cuda]\n", "cuda"},
		{"empty backends", "backends: []\n", "backends must be non-empty"},
		{"negative tile", "tile_size: -1\n", "tile_size"},
		{"negative workers", "workers: -3\n", "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content), false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseBackends(t *testing.T) {
	cfg := Config{Backends: []string{"pmruntime", "renderscript"}}
	backends, err := cfg.ParseBackends()
	require.NoError(t, err)
	assert.Equal(t, []registry.Backend{registry.PMRuntime, registry.RenderScript}, backends)
}

func TestLoadRootConfigExplicitMustExist(t *testing.T) {
	_, err := loadRootConfig(&RootOptions{Config: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)

	// The default file name is optional
	_, err = loadRootConfig(&RootOptions{Config: DefaultConfigFile})
	require.NoError(t, err)
}

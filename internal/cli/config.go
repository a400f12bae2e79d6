package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pmc/internal/lower"
	"github.com/roach88/pmc/internal/registry"
)

// DefaultConfigFile is read from the working directory when present.
const DefaultConfigFile = "pmc.yaml"

// CacheEnv overrides the cache path from the config file.
const CacheEnv = "PMC_CACHE"

// Config holds project settings. Command-line flags win over the file.
//
// Example pmc.yaml:
//
//	backends: [renderscript, pmruntime]
//	output: generated
//	workers: 8
//	tile_size: 256
//	cache: .pmc/cache.db
//	library: pmc_native
//	user_library: com.example.userlibrary
//	instance: PM_wrapper
type Config struct {
	Backends    []string `yaml:"backends,omitempty"`
	Output      string   `yaml:"output,omitempty"`
	Workers     int      `yaml:"workers,omitempty"`
	TileSize    int      `yaml:"tile_size,omitempty"`
	Cache       string   `yaml:"cache,omitempty"`
	Library     string   `yaml:"library,omitempty"`
	UserLibrary string   `yaml:"user_library,omitempty"`
	Instance    string   `yaml:"instance,omitempty"`
}

// DefaultConfig returns the settings used without a config file.
func DefaultConfig() Config {
	backends := make([]string, 0, len(registry.Backends))
	for _, b := range registry.Backends {
		backends = append(backends, string(b))
	}
	return Config{
		Backends: backends,
		Output:   "generated",
		Workers:  runtime.NumCPU(),
		Cache:    ".pmc/cache.db",
	}
}

// LoadConfig reads path over the defaults. A missing file is not an
// error when optional is set. The PMC_CACHE environment variable
// replaces the cache path.
func LoadConfig(path string, optional bool) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && optional:
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true) // Reject unknown fields
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if env := os.Getenv(CacheEnv); env != "" {
		cfg.Cache = env
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("backends must be non-empty")
	}
	if _, err := c.ParseBackends(); err != nil {
		return err
	}
	if c.TileSize < 0 {
		return fmt.Errorf("tile_size must not be negative")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	return nil
}

// ParseBackends resolves the configured backend ids.
func (c Config) ParseBackends() ([]registry.Backend, error) {
	backends := make([]registry.Backend, 0, len(c.Backends))
	for _, s := range c.Backends {
		b, err := registry.ParseBackend(s)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// LowerOptions returns the code generation options of the config.
func (c Config) LowerOptions() lower.Options {
	opts := lower.DefaultOptions()
	opts.TileSize = c.TileSize
	opts.Library = c.Library
	if c.UserLibrary != "" {
		opts.UserLibrary = c.UserLibrary
	}
	if c.Instance != "" {
		opts.Instance = c.Instance
	}
	return opts
}

// loadRootConfig loads the config named by the root options. The default
// file is optional; an explicit one must exist.
func loadRootConfig(opts *RootOptions) (Config, error) {
	path := opts.Config
	optional := path == "" || path == DefaultConfigFile
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadConfig(path, optional)
}

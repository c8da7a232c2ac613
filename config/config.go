/*
	Package config loads bfio settings from a TOML file.

	[logging]
	logfile = "/var/log/bfio.log"
	level = "info"
	max_log_size = 500
	max_log_age = 30

	[cache]
	total_bytes_limit = 1000000000
	compress = false

	[concurrency]
	data_copy = 8
	file_io = 8

	[store.swift]
	user = "..."

	Keys missing from the file keep their defaults.
*/
package config

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/PolusAI/bfiocpp/bfio"
	"github.com/PolusAI/bfiocpp/storage"
)

type cacheConfig struct {
	TotalBytesLimit int64 `toml:"total_bytes_limit"`
	Compress        bool
}

type concurrencyConfig struct {
	DataCopy int `toml:"data_copy"`
	FileIO   int `toml:"file_io"`
}

// storeConfig holds the settings of one kvstore engine.
type storeConfig map[string]interface{}

// Config is the parsed TOML configuration.
type Config struct {
	Logging     bfio.LogConfig
	Cache       cacheConfig
	Concurrency concurrencyConfig
	Store       map[string]storeConfig

	location string
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Cache: cacheConfig{TotalBytesLimit: bfio.DefaultCacheBytes},
		Concurrency: concurrencyConfig{
			DataCopy: bfio.DefaultDataCopyConcurrency,
			FileIO:   bfio.DefaultFileIOConcurrency,
		},
		Store: make(map[string]storeConfig),
	}
}

// Load reads a TOML configuration file.  Relative paths within it are taken
// relative to the file's directory.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	c := Default()
	md, err := toml.DecodeFile(filename, c)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		bfio.Warningf("Ignoring unknown settings in %s: %v\n", filename, undecoded)
	}
	c.location = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	if c.Logging.Level != "" {
		if _, err := bfio.ParseLogMode(c.Logging.Level); err != nil {
			return nil, fmt.Errorf("[logging] level: %v", err)
		}
	}
	if c.Store == nil {
		c.Store = make(map[string]storeConfig)
	}
	bfio.Infof("Loaded configuration %s: %s\n", filename, c.ContextSpec())
	return c, nil
}

// Location returns the file the configuration was loaded from, or "" for defaults.
func (c *Config) Location() string {
	return c.location
}

func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		abs, err := convertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
		c.Logging.Logfile = abs
	}

	// [store.foo].path
	for engine, sc := range c.Store {
		p, ok := sc["path"]
		if !ok {
			continue
		}
		path, ok := p.(string)
		if !ok {
			return fmt.Errorf("don't understand path setting for store %q", engine)
		}
		abs, err := convertToAbsolute(path, configDir)
		if err != nil {
			return fmt.Errorf("error converting store.%s.path to absolute path: %q", engine, path)
		}
		sc["path"] = abs
	}
	return nil
}

func convertToAbsolute(path, dir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(dir, path))
}

// ContextSpec returns the runtime limits.  A zero cache limit disables caching.
func (c *Config) ContextSpec() storage.ContextSpec {
	var spec storage.ContextSpec
	spec.CachePool.TotalBytesLimit = c.Cache.TotalBytesLimit
	spec.CachePool.Compress = c.Cache.Compress
	spec.DataCopyConcurrency.Limit = c.Concurrency.DataCopy
	spec.FileIOConcurrency.Limit = c.Concurrency.FileIO
	return spec
}

// Context builds a runtime context from the configured limits.
func (c *Config) Context() *storage.Context {
	return storage.NewContext(c.ContextSpec())
}

// StoreConfig returns the settings for a kvstore engine and whether any were given.
func (c *Config) StoreConfig(engine string) (bfio.Config, bool) {
	sc, found := c.Store[engine]
	if !found {
		return nil, false
	}
	return bfio.Config(sc), true
}

// Stores returns the sorted names of engines with settings.
func (c *Config) Stores() []string {
	names := make([]string, 0, len(c.Store))
	for name := range c.Store {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

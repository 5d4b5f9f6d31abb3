package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendLevelDB  = "leveldb"
	BackendPebble   = "pebble"
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendFlatFile = "flatfile"
)

// Backends lists the accepted storage.backend values.
var Backends = []string{BackendLevelDB, BackendPebble, BackendBolt, BackendSQLite, BackendFlatFile}

// IndexBackends lists the ordered stores the flat-file backend can keep its
// secondary indexes in.
var IndexBackends = []string{BackendLevelDB, BackendPebble, BackendBolt, BackendSQLite}

// Config is the top-level configuration.
type Config struct {
	Storage Storage `yaml:"storage"`
	Engine  Engine  `yaml:"engine"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Storage selects and locates the backend.
type Storage struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	// IndexBackend is the ordered store holding secondary indexes when
	// Backend is flatfile.
	IndexBackend string `yaml:"index_backend"`
	Fsync        bool   `yaml:"fsync"`
}

// Engine tunes the append engine.
type Engine struct {
	MaxClockSkew      time.Duration `yaml:"max_clock_skew"`
	ReductionCacheTTL time.Duration `yaml:"reduction_cache_ttl"`
}

// Log configures the default slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics toggles the Prometheus collectors. An enabled command writes them
// in the text exposition format to Path when it exits, or to stderr when
// Path is empty.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Storage: Storage{
			Backend:      BackendLevelDB,
			Path:         "siglog-data",
			IndexBackend: BackendLevelDB,
			Fsync:        true,
		},
		Engine: Engine{
			MaxClockSkew: 60 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over Default(). An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default().
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if !slices.Contains(Backends, c.Storage.Backend) {
		return fmt.Errorf("storage.backend %q: must be one of %v", c.Storage.Backend, Backends)
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	if c.Storage.Backend == BackendFlatFile && !slices.Contains(IndexBackends, c.Storage.IndexBackend) {
		return fmt.Errorf("storage.index_backend %q: must be one of %v", c.Storage.IndexBackend, IndexBackends)
	}
	if c.Engine.MaxClockSkew < 0 {
		return fmt.Errorf("engine.max_clock_skew %s: must not be negative", c.Engine.MaxClockSkew)
	}
	if c.Engine.ReductionCacheTTL < 0 {
		return fmt.Errorf("engine.reduction_cache_ttl %s: must not be negative", c.Engine.ReductionCacheTTL)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q: must be text or json", c.Log.Format)
	}
	return nil
}

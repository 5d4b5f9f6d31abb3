package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendLevelDB, cfg.Storage.Backend)
	assert.Equal(t, 60*time.Second, cfg.Engine.MaxClockSkew)
	assert.Zero(t, cfg.Engine.ReductionCacheTTL)
	assert.False(t, cfg.Metrics.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathIsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siglog.yaml")
	data := []byte(`
storage:
  backend: flatfile
  path: /var/lib/siglog
  index_backend: pebble
engine:
  max_clock_skew: 5m
  reduction_cache_ttl: 30s
log:
  level: debug
  format: json
metrics:
  enabled: true
  path: /var/lib/siglog/metrics.prom
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendFlatFile, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/siglog", cfg.Storage.Path)
	assert.Equal(t, BackendPebble, cfg.Storage.IndexBackend)
	assert.True(t, cfg.Storage.Fsync, "unset keys keep their defaults")
	assert.Equal(t, 5*time.Minute, cfg.Engine.MaxClockSkew)
	assert.Equal(t, 30*time.Second, cfg.Engine.ReductionCacheTTL)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/var/lib/siglog/metrics.prom", cfg.Metrics.Path)
	require.NoError(t, cfg.Validate())
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("storage:\n  backend: leveldb\n  colour: blue\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"empty path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"flatfile index backend", func(c *Config) {
			c.Storage.Backend = BackendFlatFile
			c.Storage.IndexBackend = BackendFlatFile
		}, "storage.index_backend"},
		{"negative skew", func(c *Config) { c.Engine.MaxClockSkew = -time.Second }, "max_clock_skew"},
		{"negative ttl", func(c *Config) { c.Engine.ReductionCacheTTL = -time.Second }, "reduction_cache_ttl"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SIGLOG_STORAGE_BACKEND", "bolt")
	t.Setenv("SIGLOG_STORAGE_PATH", "/tmp/siglog.db")
	t.Setenv("SIGLOG_STORAGE_FSYNC", "false")
	t.Setenv("SIGLOG_ENGINE_MAX_CLOCK_SKEW", "2m")
	t.Setenv("SIGLOG_ENGINE_REDUCTION_CACHE_TTL", "not-a-duration")
	t.Setenv("SIGLOG_LOG_LEVEL", "warn")
	t.Setenv("SIGLOG_METRICS_ENABLED", "true")
	t.Setenv("SIGLOG_METRICS_PATH", "/tmp/siglog.prom")

	cfg := Default()
	FromEnv(&cfg)
	assert.Equal(t, BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/siglog.db", cfg.Storage.Path)
	assert.False(t, cfg.Storage.Fsync)
	assert.Equal(t, 2*time.Minute, cfg.Engine.MaxClockSkew)
	assert.Zero(t, cfg.Engine.ReductionCacheTTL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/tmp/siglog.prom", cfg.Metrics.Path)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Log{Level: "warn", Format: "json"}.NewLogger(&buf, false)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "public_key", "abc")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"public_key":"abc"`)

	buf.Reset()
	logger, err = Log{Level: "error", Format: "text"}.NewLogger(&buf, true)
	require.NoError(t, err)
	logger.Debug("verbose wins")
	assert.Contains(t, buf.String(), "verbose wins")
}

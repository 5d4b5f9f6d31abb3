package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays SIGLOG_* environment variables onto cfg. Values that do
// not parse are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SIGLOG_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("SIGLOG_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SIGLOG_STORAGE_INDEX_BACKEND"); v != "" {
		cfg.Storage.IndexBackend = v
	}
	if v := os.Getenv("SIGLOG_STORAGE_FSYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Storage.Fsync = b
		}
	}
	if v := os.Getenv("SIGLOG_ENGINE_MAX_CLOCK_SKEW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.MaxClockSkew = d
		}
	}
	if v := os.Getenv("SIGLOG_ENGINE_REDUCTION_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.ReductionCacheTTL = d
		}
	}
	if v := os.Getenv("SIGLOG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SIGLOG_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SIGLOG_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("SIGLOG_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

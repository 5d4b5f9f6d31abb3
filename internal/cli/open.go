package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/siglog/internal/config"
	"github.com/roach88/siglog/internal/engine"
	"github.com/roach88/siglog/internal/kv"
	"github.com/roach88/siglog/internal/kv/bolt"
	"github.com/roach88/siglog/internal/kv/leveldb"
	"github.com/roach88/siglog/internal/kv/pebble"
	"github.com/roach88/siglog/internal/kv/sqlite"
	"github.com/roach88/siglog/internal/store"
)

// indexDirName holds the flat-file backend's secondary index store.
const indexDirName = "indexes"

// session is an open engine plus what a command needs around it.
type session struct {
	engine  *engine.Engine
	backend store.Backend
	logger  *slog.Logger
	out     *OutputFormatter

	// metrics is nil unless metrics are enabled. Its contents are written
	// to metricsPath, or to stderr when the path is empty, on Close.
	metrics     *prometheus.Registry
	metricsPath string
	stderr      io.Writer
}

func (s *session) Close() error {
	if err := s.engine.Close(); err != nil {
		return err
	}
	if err := s.backend.Close(); err != nil {
		return err
	}
	if s.metrics == nil {
		return nil
	}
	if err := s.dumpMetrics(); err != nil {
		s.logger.Warn("failed to write metrics", "path", s.metricsPath, "error", err)
		return err
	}
	return nil
}

func (s *session) dumpMetrics() error {
	if s.metricsPath == "" {
		return writeMetrics(s.stderr, s.metrics)
	}
	file, err := os.Create(s.metricsPath)
	if err != nil {
		return err
	}
	if err := writeMetrics(file, s.metrics); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// writeMetrics renders every family g gathers in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// loadConfig reads the config file, applies SIGLOG_* overrides and validates.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	config.FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openSession loads configuration and opens the configured backend.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	out := opts.formatter(cmd)

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, out.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr(), opts.Verbose)
	if err != nil {
		return nil, out.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	backend, err := openBackend(cfg.Storage, logger)
	if err != nil {
		return nil, out.fail(ExitCommandError, ErrCodeStorage, "failed to open storage", err)
	}
	out.VerboseLog("Opened %s storage at %s", cfg.Storage.Backend, cfg.Storage.Path)

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMaxClockSkew(cfg.Engine.MaxClockSkew),
		engine.WithReductionCache(cfg.Engine.ReductionCacheTTL),
	}
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		engineOpts = append(engineOpts, engine.WithMetrics(registry))
	}

	return &session{
		engine:      engine.New(backend, engineOpts...),
		backend:     backend,
		logger:      logger,
		out:         out,
		metrics:     registry,
		metricsPath: cfg.Metrics.Path,
		stderr:      cmd.ErrOrStderr(),
	}, nil
}

// openBackend opens the store.Backend described by cfg.
func openBackend(cfg config.Storage, logger *slog.Logger) (store.Backend, error) {
	if cfg.Backend != config.BackendFlatFile {
		db, err := openKV(cfg.Backend, cfg.Path, cfg.Fsync, logger)
		if err != nil {
			return nil, err
		}
		return store.NewOrdered(db), nil
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", cfg.Path, err)
	}
	indexes, err := openKV(cfg.IndexBackend, filepath.Join(cfg.Path, indexDirName), cfg.Fsync, logger)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}
	backend, err := store.NewFlatFile(cfg.Path, indexes, store.WithSync(cfg.Fsync))
	if err != nil {
		indexes.Close()
		return nil, err
	}
	return backend, nil
}

// openKV opens one ordered store. path is a directory for leveldb and
// pebble and a file for bolt and sqlite.
func openKV(kind, path string, fsync bool, logger *slog.Logger) (kv.Store, error) {
	switch kind {
	case config.BackendLevelDB:
		return leveldb.Open(path, leveldb.WithSync(fsync))
	case config.BackendPebble:
		mode := pebble.FsyncModeInterval
		if fsync {
			mode = pebble.FsyncModeAlways
		}
		return pebble.Open(pebble.Options{Dir: path, Fsync: mode})
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		return bolt.Open(path, bolt.WithNoSync(!fsync), bolt.WithLogger(logger))
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
		}
		return sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

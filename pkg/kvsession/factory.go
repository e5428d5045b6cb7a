package kvsession

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/kasuganosora/dal/pkg/api"
	"github.com/kasuganosora/dal/pkg/config"
)

// Factory opens sessions over an embedded Badger store
type Factory struct {
	db       *badger.DB
	cfg      config.DataSourceConfig
	registry *api.MapperRegistry
	logger   api.Logger
	closed   atomic.Bool
}

// Option adjusts the Badger options before the store is opened
type Option func(opts badger.Options) badger.Options

// NewFactory opens the Badger store described by cfg
func NewFactory(cfg *config.DataSourceConfig, registry *api.MapperRegistry, logger api.Logger, options ...Option) (*Factory, error) {
	if cfg == nil {
		return nil, api.NewError(api.ErrCodeConfig, "data source config cannot be nil", nil)
	}
	if !cfg.IsBadger() {
		return nil, api.NewError(api.ErrCodeConfig, fmt.Sprintf("driver %q is not %s", cfg.Driver, config.DriverBadger), nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, api.WrapError(err, api.ErrCodeConfig, "invalid data source config")
	}
	if logger == nil {
		logger = api.NewNoOpLogger()
	}

	var opts badger.Options
	if cfg.Badger.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dataDir(cfg))
	}
	opts = opts.WithSyncWrites(cfg.Badger.SyncWrites)
	opts = opts.WithLogger(badgerLogger{logger: logger})
	for _, o := range options {
		opts = o(opts)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, api.NewError(api.ErrCodeAcquire, "failed to open badger database", err)
	}

	logger.Info("session factory ready: %s", cfg.String())
	return &Factory{
		db:       db,
		cfg:      *cfg,
		registry: registry,
		logger:   logger,
	}, nil
}

// dataDir 优先使用 badger.dir, 其次是去掉 badger: 前缀的 URL
func dataDir(cfg *config.DataSourceConfig) string {
	if cfg.Badger.Dir != "" {
		return cfg.Badger.Dir
	}
	dir := strings.TrimPrefix(cfg.URL, "jdbc:")
	dir = strings.TrimPrefix(dir, "badger://")
	return strings.TrimPrefix(dir, "badger:")
}

// OpenSession opens a session whose writes are committed one by one
func (f *Factory) OpenSession(ctx context.Context) (api.Session, error) {
	return f.open(api.ExecutorSimple)
}

// OpenBatchSession opens a session that collects writes in one transaction
func (f *Factory) OpenBatchSession(ctx context.Context) (api.Session, error) {
	return f.open(api.ExecutorBatch)
}

func (f *Factory) open(mode api.ExecutorType) (*Session, error) {
	if f.closed.Load() {
		return nil, api.NewError(api.ErrCodeClosed, "session factory is closed", nil)
	}
	return newSession(f, mode), nil
}

// DB exposes the underlying store
func (f *Factory) DB() *badger.DB {
	return f.db
}

// Close closes the store
func (f *Factory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := f.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}
	return nil
}

// badgerLogger routes Badger's own logging to api.Logger.
// Badger is chatty at INFO, so that goes to DEBUG.
type badgerLogger struct {
	logger api.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("badger: "+strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn("badger: "+strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug("badger: "+strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger: "+strings.TrimSpace(format), args...)
}

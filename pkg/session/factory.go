package session

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kasuganosora/dal/pkg/api"
	"github.com/kasuganosora/dal/pkg/config"
)

// Factory 基于 database/sql 连接池和 GORM 的会话工厂
type Factory struct {
	cfg      config.DataSourceConfig
	flavor   Flavor
	sqlDB    *sql.DB
	gormDB   *gorm.DB
	registry *api.MapperRegistry
	logger   api.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   atomic.Bool
}

// Stats 连接池和会话统计
type Stats struct {
	Flavor       Flavor
	OpenSessions int
	Pool         sql.DBStats
}

// NewFactory 打开连接池并预热 InitialPoolSize 个连接
func NewFactory(ctx context.Context, cfg *config.DataSourceConfig, registry *api.MapperRegistry, logger api.Logger) (*Factory, error) {
	if cfg == nil {
		return nil, api.NewError(api.ErrCodeConfig, "data source config cannot be nil", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, api.WrapError(err, api.ErrCodeConfig, "invalid data source config")
	}
	if logger == nil {
		logger = api.NewNoOpLogger()
	}

	flavor, err := ResolveFlavor(cfg.Driver)
	if err != nil {
		return nil, api.WrapError(err, api.ErrCodeConfig, "invalid data source config")
	}
	dsn, err := BuildDSN(flavor, cfg)
	if err != nil {
		return nil, api.WrapError(err, api.ErrCodeConfig, "invalid data source url")
	}

	sqlDB, err := sql.Open(flavor.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", flavor, err)
	}

	f := &Factory{
		cfg:      *cfg,
		flavor:   flavor,
		sqlDB:    sqlDB,
		registry: registry,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	f.configurePool(dsn)

	if err := f.ping(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := f.warmUp(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	gormDB, err := gorm.Open(NewDialector(flavor, sqlDB), &gorm.Config{
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
		Logger:                 newGormLogger(logger),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm over %s pool: %w", flavor, err)
	}
	f.gormDB = gormDB

	logger.Info("session factory ready: %s", cfg.String())
	return f, nil
}

func (f *Factory) configurePool(dsn string) {
	maxOpen := f.cfg.MaxPoolSize
	maxIdle := f.cfg.MinPoolSize
	if f.cfg.InitialPoolSize > maxIdle {
		maxIdle = f.cfg.InitialPoolSize
	}
	lifetime := f.cfg.GetConnMaxLifetime()
	idleTime := f.cfg.GetConnMaxIdleTime()

	// 每个 :memory: 连接都是独立的数据库
	if f.flavor == FlavorSQLite && dsn == ":memory:" {
		maxOpen, maxIdle = 1, 1
		lifetime, idleTime = 0, 0
		f.cfg.InitialPoolSize = 1
		f.cfg.AcquireIncrement = 1
	}

	f.sqlDB.SetMaxOpenConns(maxOpen)
	f.sqlDB.SetMaxIdleConns(maxIdle)
	f.sqlDB.SetConnMaxLifetime(lifetime)
	f.sqlDB.SetConnMaxIdleTime(idleTime)
}

func (f *Factory) ping(ctx context.Context) error {
	pingCtx, cancel := f.acquireContext(ctx)
	defer cancel()

	if err := f.sqlDB.PingContext(pingCtx); err != nil {
		return api.NewError(api.ErrCodeAcquire, fmt.Sprintf("ping %s data source", f.flavor), err)
	}
	return nil
}

// warmUp 按 AcquireIncrement 分批并发建立连接, 全部建立后一起归还连接池
func (f *Factory) warmUp(ctx context.Context) error {
	target := f.cfg.InitialPoolSize
	step := f.cfg.AcquireIncrement
	if step < 1 {
		step = 1
	}

	var (
		mu   sync.Mutex
		held = make([]*sql.Conn, 0, target)
	)
	defer func() {
		for _, conn := range held {
			conn.Close()
		}
	}()

	warmCtx, cancel := f.acquireContext(ctx)
	defer cancel()

	for len(held) < target {
		n := min(step, target-len(held))
		g, gctx := errgroup.WithContext(warmCtx)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				conn, err := f.sqlDB.Conn(gctx)
				if err != nil {
					return err
				}
				mu.Lock()
				held = append(held, conn)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return api.NewError(api.ErrCodeAcquire,
				fmt.Sprintf("warm up connection %d of %d", len(held)+1, target), err)
		}
	}

	f.logger.Debug("warmed up %d connections in steps of %d", len(held), step)
	return nil
}

func (f *Factory) acquireContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := f.cfg.GetAcquireTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// OpenSession 打开自动提交会话
func (f *Factory) OpenSession(ctx context.Context) (api.Session, error) {
	return f.open(ctx, api.ExecutorSimple)
}

// OpenBatchSession 打开批量会话, 所有语句在同一事务中执行
func (f *Factory) OpenBatchSession(ctx context.Context) (api.Session, error) {
	return f.open(ctx, api.ExecutorBatch)
}

func (f *Factory) open(ctx context.Context, mode api.ExecutorType) (*Session, error) {
	if f.closed.Load() {
		return nil, api.NewError(api.ErrCodeClosed, "session factory is closed", nil)
	}

	acquireCtx, cancel := f.acquireContext(ctx)
	conn, err := f.sqlDB.Conn(acquireCtx)
	cancel()
	if err != nil {
		return nil, api.NewError(api.ErrCodeAcquire, "acquire connection", err)
	}

	s, err := newSession(ctx, f, conn, mode)
	if err != nil {
		conn.Close()
		return nil, err
	}

	f.mu.Lock()
	f.sessions[s.id] = s
	f.mu.Unlock()
	return s, nil
}

func (f *Factory) forget(s *Session) {
	f.mu.Lock()
	delete(f.sessions, s.id)
	f.mu.Unlock()
}

// Flavor 返回数据库方言
func (f *Factory) Flavor() Flavor {
	return f.flavor
}

// DB 返回工厂级 GORM 句柄, 供迁移等不属于会话的操作使用
func (f *Factory) DB() *gorm.DB {
	return f.gormDB
}

// Registry 返回会话解析 mapper 用的注册表
func (f *Factory) Registry() *api.MapperRegistry {
	return f.registry
}

// Stats 返回连接池统计
func (f *Factory) Stats() Stats {
	f.mu.Lock()
	open := len(f.sessions)
	f.mu.Unlock()

	return Stats{
		Flavor:       f.flavor,
		OpenSessions: open,
		Pool:         f.sqlDB.Stats(),
	}
}

// Close 关闭连接池. 仍未释放的会话会被记录到日志
func (f *Factory) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}

	f.mu.Lock()
	leaked := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		leaked = append(leaked, id)
	}
	f.mu.Unlock()

	if len(leaked) > 0 {
		sort.Strings(leaked)
		f.logger.Warn("closing session factory with %d open sessions: %v", len(leaked), leaked)
	}
	return f.sqlDB.Close()
}

// gormWriter 把 GORM 的 SQL 日志转到 api.Logger
type gormWriter struct {
	logger api.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Debug(format, args...)
}

func newGormLogger(logger api.Logger) gormlogger.Interface {
	level := gormlogger.Silent
	if logger.GetLevel() >= api.LogDebug {
		level = gormlogger.Info
	}
	return gormlogger.New(gormWriter{logger: logger}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

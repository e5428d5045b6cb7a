package bootstrap

import (
	"context"
	"io"
	"sync"

	"github.com/kasuganosora/dal/pkg/api"
	"github.com/kasuganosora/dal/pkg/config"
	"github.com/kasuganosora/dal/pkg/kvsession"
	"github.com/kasuganosora/dal/pkg/session"
)

// Provider 可关闭的会话工厂
type Provider interface {
	api.SessionFactory
	Close() error
}

var (
	_ Provider = (*session.Factory)(nil)
	_ Provider = (*kvsession.Factory)(nil)
)

// Open 按驱动选择会话工厂: badger 使用嵌入式 KV 存储, 其余走 SQL 连接池
func Open(ctx context.Context, cfg *config.DataSourceConfig, registry *api.MapperRegistry, logger api.Logger) (Provider, error) {
	if cfg == nil {
		return nil, api.NewError(api.ErrCodeConfig, "data source config cannot be nil", nil)
	}
	if cfg.IsBadger() {
		f, err := kvsession.NewFactory(cfg, registry, logger)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	f, err := session.NewFactory(ctx, cfg, registry, logger)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Load 读取配置文件并打开会话工厂. resource 为空时使用默认配置和环境变量
func Load(ctx context.Context, resource string, registry *api.MapperRegistry, logger api.Logger) (Provider, error) {
	cfg, err := config.LoadConfig(resource)
	if err != nil {
		return nil, api.WrapError(err, api.ErrCodeConfig, "failed to load configuration '"+resource+"'")
	}
	return Open(ctx, &cfg.DataSource, registry, logger)
}

// NewLogger 按日志配置创建 zerolog 日志
func NewLogger(w io.Writer, lc config.LogConfig) *api.ZerologLogger {
	return api.NewZerologLogger(w, api.ParseLogLevel(lc.Level), lc.Format)
}

// Holder 进程级会话工厂持有者.
// 第一次使用时构造工厂, 构造失败会记录日志, 之后所有打开会话的请求都返回该错误.
type Holder struct {
	load   func(ctx context.Context) (Provider, error)
	logger api.Logger

	once     sync.Once
	provider Provider
	err      error

	mu     sync.Mutex
	closed bool
}

var _ api.SessionFactory = (*Holder)(nil)

// NewHolder 从配置资源延迟构造工厂
func NewHolder(resource string, registry *api.MapperRegistry, logger api.Logger) *Holder {
	if logger == nil {
		logger = api.NewNoOpLogger()
	}
	return &Holder{
		logger: logger,
		load: func(ctx context.Context) (Provider, error) {
			return Load(ctx, resource, registry, logger)
		},
	}
}

// NewHolderFromConfig 从已加载的配置延迟构造工厂
func NewHolderFromConfig(cfg *config.DataSourceConfig, registry *api.MapperRegistry, logger api.Logger) *Holder {
	if logger == nil {
		logger = api.NewNoOpLogger()
	}
	return &Holder{
		logger: logger,
		load: func(ctx context.Context) (Provider, error) {
			return Open(ctx, cfg, registry, logger)
		},
	}
}

// Factory 返回工厂, 首次调用时构造
func (h *Holder) Factory(ctx context.Context) (Provider, error) {
	h.once.Do(func() {
		// 工厂属于整个进程, 不随首个请求的 ctx 取消; ping 与预热仍受 AcquireTimeout 限制
		h.provider, h.err = h.load(context.WithoutCancel(ctx))
		if h.err != nil {
			h.logger.Error("session factory loading failure: %v", h.err)
		}
	})

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, api.NewError(api.ErrCodeClosed, "session factory is closed", nil)
	}

	if h.err != nil {
		return nil, api.WrapError(h.err, api.ErrCodeAcquire, "session factory is unavailable")
	}
	return h.provider, nil
}

// OpenSession 打开自动提交会话
func (h *Holder) OpenSession(ctx context.Context) (api.Session, error) {
	f, err := h.Factory(ctx)
	if err != nil {
		return nil, err
	}
	return f.OpenSession(ctx)
}

// OpenBatchSession 打开批量会话
func (h *Holder) OpenBatchSession(ctx context.Context) (api.Session, error) {
	f, err := h.Factory(ctx)
	if err != nil {
		return nil, err
	}
	return f.OpenBatchSession(ctx)
}

// Close 关闭已构造的工厂. 未构造时只标记关闭
func (h *Holder) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	// 之后的 Factory 调用不再构造
	h.once.Do(func() {})
	if h.provider != nil {
		return h.provider.Close()
	}
	return nil
}

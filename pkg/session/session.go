package session

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kasuganosora/dal/pkg/api"
)

// Session 持有一个独占连接. 批量模式下连接上始终有一个打开的事务
type Session struct {
	id      string
	mode    api.ExecutorType
	factory *Factory
	conn    *sql.Conn

	mu     sync.Mutex
	base   *gorm.DB // 绑定到 conn 的自动提交句柄
	tx     *gorm.DB // 批量模式下的当前事务
	closed bool
}

func newSession(ctx context.Context, f *Factory, conn *sql.Conn, mode api.ExecutorType) (*Session, error) {
	base := f.gormDB.Session(&gorm.Session{Context: ctx, NewDB: true})
	base.Statement.ConnPool = conn

	s := &Session{
		id:      uuid.NewString(),
		mode:    mode,
		factory: f,
		conn:    conn,
		base:    base,
	}

	if mode == api.ExecutorBatch {
		if err := s.begin(); err != nil {
			return nil, api.NewError(api.ErrCodeAcquire, "begin batch transaction", err)
		}
	}
	return s, nil
}

func (s *Session) begin() error {
	tx := s.base.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	s.tx = tx
	return nil
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// ExecutorType 会话模式
func (s *Session) ExecutorType() api.ExecutorType {
	return s.mode
}

// DB 返回绑定到本会话的 GORM 句柄. 批量模式下是当前事务
func (s *Session) DB() *gorm.DB {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return s.tx
	}
	return s.base
}

// GetMapper 从工厂注册表解析 mapper 并绑定到本会话
func (s *Session) GetMapper(name string) (any, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, api.NewError(api.ErrCodeClosed, "session is closed", nil)
	}
	return s.factory.registry.Resolve(s, name)
}

// Commit 提交当前事务并开启新事务. 自动提交会话无操作
func (s *Session) Commit(ctx context.Context) error {
	return s.finish("commit", func(tx *gorm.DB) error { return tx.Commit().Error })
}

// Rollback 回滚当前事务并开启新事务. 自动提交会话无操作
func (s *Session) Rollback(ctx context.Context) error {
	return s.finish("rollback", func(tx *gorm.DB) error { return tx.Rollback().Error })
}

func (s *Session) finish(action string, end func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return api.NewError(api.ErrCodeClosed, "session is closed", nil)
	}
	if s.tx == nil {
		return nil
	}

	err := end(s.tx)
	s.tx = nil
	if err != nil {
		return api.NewError(api.ErrCodeTransaction, action+" batch transaction", err)
	}
	if err := s.begin(); err != nil {
		return api.NewError(api.ErrCodeTransaction, "begin batch transaction", err)
	}
	return nil
}

// Close 结束事务并把连接归还连接池. AutoCommit 开启时提交, 否则回滚
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return api.NewError(api.ErrCodeClosed, "session "+s.id+" is already closed", nil)
	}
	s.closed = true
	tx := s.tx
	s.tx = nil
	s.mu.Unlock()

	defer s.factory.forget(s)

	var txErr error
	if tx != nil {
		if s.factory.cfg.IsAutoCommit() {
			if err := tx.Commit().Error; err != nil {
				txErr = api.NewError(api.ErrCodeTransaction, "commit batch transaction", err)
			}
		} else if err := tx.Rollback().Error; err != nil {
			txErr = api.NewError(api.ErrCodeTransaction, "rollback batch transaction", err)
		}
	}

	if err := s.conn.Close(); err != nil && txErr == nil {
		return api.NewError(api.ErrCodeRelease, "return connection to pool", err)
	}
	return txErr
}

package kvsession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/kasuganosora/dal/pkg/api"
)

// ErrNotFound is returned by Get for a missing key
var ErrNotFound = badger.ErrKeyNotFound

// Store is the handle key-value mappers bind to
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	// Delete reports whether the key existed
	Delete(key string) (bool, error)
	// Keys lists keys under prefix in byte order
	Keys(prefix string) ([]string, error)
}

// Session is a unit of work over the store. Batch sessions keep one
// read-write transaction open until Close; when it outgrows Badger's limits
// the pending writes are committed and a new transaction is started.
type Session struct {
	id      string
	mode    api.ExecutorType
	factory *Factory

	mu      sync.Mutex
	txn     *badger.Txn
	pending int
	flushes int
	closed  bool
}

var _ Store = (*Session)(nil)

func newSession(f *Factory, mode api.ExecutorType) *Session {
	s := &Session{
		id:      uuid.NewString(),
		mode:    mode,
		factory: f,
	}
	if mode == api.ExecutorBatch {
		s.txn = f.db.NewTransaction(true)
	}
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// ExecutorType returns the session mode
func (s *Session) ExecutorType() api.ExecutorType {
	return s.mode
}

// GetMapper resolves a mapper bound to this session
func (s *Session) GetMapper(name string) (any, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, api.NewError(api.ErrCodeClosed, "session is closed", nil)
	}
	return s.factory.registry.Resolve(s, name)
}

// Put stores value under key
func (s *Session) Put(key string, value []byte) error {
	return s.write(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Delete removes key
func (s *Session) Delete(key string) (bool, error) {
	var existed bool
	err := s.write(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			existed = false
			return nil
		case err != nil:
			return err
		}
		existed = true
		return txn.Delete([]byte(key))
	})
	return existed, err
}

// Get returns a copy of the value under key, or ErrNotFound
func (s *Session) Get(key string) ([]byte, error) {
	var value []byte
	err := s.read(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Keys returns the keys under prefix, including pending writes of a batch
func (s *Session) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.read(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

func (s *Session) write(fn func(txn *badger.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return api.NewError(api.ErrCodeClosed, "session is closed", nil)
	}
	if s.txn == nil {
		return s.factory.db.Update(fn)
	}

	err := fn(s.txn)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if !s.factory.cfg.IsAutoCommit() {
			// 未开启自动提交时不能提前落盘, 整个批次留给 Close/Rollback 丢弃
			return api.NewError(api.ErrCodeTransaction, "batch exceeds transaction size limit", err)
		}
		// 事务过大, 先提交已缓冲的写入
		s.factory.logger.Debug("session %s: flushing %d pending writes", s.id, s.pending)
		if err := s.txn.Commit(); err != nil {
			s.txn = s.factory.db.NewTransaction(true)
			return api.NewError(api.ErrCodeTransaction, "flush batch transaction", err)
		}
		s.flushes++
		s.pending = 0
		s.txn = s.factory.db.NewTransaction(true)
		err = fn(s.txn)
	}
	if err != nil {
		return err
	}
	s.pending++
	return nil
}

func (s *Session) read(fn func(txn *badger.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return api.NewError(api.ErrCodeClosed, "session is closed", nil)
	}
	if s.txn == nil {
		return s.factory.db.View(fn)
	}
	return fn(s.txn)
}

// Flushes reports how many times a too-large batch was committed early
func (s *Session) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Commit commits pending batch writes and starts a new transaction
func (s *Session) Commit(ctx context.Context) error {
	return s.finish(true)
}

// Rollback discards pending batch writes and starts a new transaction
func (s *Session) Rollback(ctx context.Context) error {
	return s.finish(false)
}

func (s *Session) finish(commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return api.NewError(api.ErrCodeClosed, "session is closed", nil)
	}
	if s.txn == nil {
		return nil
	}

	err := s.end(commit)
	s.txn = s.factory.db.NewTransaction(true)
	return err
}

func (s *Session) end(commit bool) error {
	s.pending = 0
	if !commit {
		s.txn.Discard()
		return nil
	}
	if err := s.txn.Commit(); err != nil {
		return api.NewError(api.ErrCodeTransaction, "commit batch transaction", err)
	}
	return nil
}

// Close commits (AutoCommit) or discards pending batch writes
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return api.NewError(api.ErrCodeClosed, "session "+s.id+" is already closed", nil)
	}
	s.closed = true

	if s.txn == nil {
		return nil
	}
	err := s.end(s.factory.cfg.IsAutoCommit())
	s.txn = nil
	return err
}

package api

import (
	"context"
	"fmt"
	"sync"
)

// spyFactory records session lifecycle calls
type spyFactory struct {
	mu       sync.Mutex
	registry *MapperRegistry
	openErr  error
	closeErr error

	opens    int
	closes   int
	resolves int
	sessions []*spySession
}

func newSpyFactory() *spyFactory {
	return &spyFactory{registry: NewMapperRegistry()}
}

func (f *spyFactory) OpenSession(ctx context.Context) (Session, error) {
	return f.open(ExecutorSimple)
}

func (f *spyFactory) OpenBatchSession(ctx context.Context) (Session, error) {
	return f.open(ExecutorBatch)
}

func (f *spyFactory) open(mode ExecutorType) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opens++
	s := &spySession{id: fmt.Sprintf("spy-%d", f.opens), mode: mode, factory: f}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *spyFactory) counts() (opens, closes, resolves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes, f.resolves
}

type spySession struct {
	id      string
	mode    ExecutorType
	factory *spyFactory
	closed  bool
}

func (s *spySession) ID() string                 { return s.id }
func (s *spySession) ExecutorType() ExecutorType { return s.mode }

func (s *spySession) GetMapper(name string) (any, error) {
	if s.closed {
		return nil, NewError(ErrCodeClosed, "session is closed", nil)
	}
	s.factory.mu.Lock()
	s.factory.resolves++
	s.factory.mu.Unlock()
	return s.factory.registry.Resolve(s, name)
}

func (s *spySession) Commit(ctx context.Context) error   { return nil }
func (s *spySession) Rollback(ctx context.Context) error { return nil }

func (s *spySession) Close() error {
	if s.closed {
		return NewError(ErrCodeClosed, "session already closed", nil)
	}
	s.closed = true

	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	s.factory.closes++
	return s.factory.closeErr
}

// recordingMapper remembers the beans it was applied to
type recordingMapper struct {
	session Session
	mu      sync.Mutex
	seen    []string
}

func (m *recordingMapper) Insert(bean string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, bean)
	return 1, nil
}

var recordingMapperType = NewMapperType[*recordingMapper]("recording")

type otherMapper struct{}

var otherMapperType = NewMapperType[*otherMapper]("other")

func registerTestMappers(r *MapperRegistry) {
	_ = RegisterMapper(r, recordingMapperType, func(s Session) (*recordingMapper, error) {
		return &recordingMapper{session: s}, nil
	})
	_ = RegisterMapper(r, otherMapperType, func(s Session) (*otherMapper, error) {
		return &otherMapper{}, nil
	})
}

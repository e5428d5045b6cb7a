package api

import (
	"context"
)

// ExecutorType 会话执行模式
type ExecutorType int

const (
	// ExecutorSimple runs every statement as soon as it is issued
	ExecutorSimple ExecutorType = iota
	// ExecutorBatch defers flush and commit to the end of the unit of work
	ExecutorBatch
)

func (t ExecutorType) String() string {
	switch t {
	case ExecutorSimple:
		return "SIMPLE"
	case ExecutorBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// Session is one unit of work against a backing store.
//
// A session belongs to the goroutine that opened it and must be closed
// exactly once. Closing an already closed session returns an ErrCodeClosed
// error and does nothing else. Mappers resolved from a session are only valid
// until it is closed.
type Session interface {
	// ID identifies the session in logs
	ID() string

	// ExecutorType reports the mode the session was opened in
	ExecutorType() ExecutorType

	// GetMapper binds the named mapper to this session.
	// Prefer the typed GetMapper function.
	GetMapper(name string) (any, error)

	// Commit flushes and commits pending work. Simple sessions auto-commit,
	// so this is a no-op for them.
	Commit(ctx context.Context) error

	// Rollback discards pending work that has not been committed
	Rollback(ctx context.Context) error

	// Close releases the session
	Close() error
}

// SessionFactory opens sessions. Implementations own the connection pool.
type SessionFactory interface {
	OpenSession(ctx context.Context) (Session, error)
	OpenBatchSession(ctx context.Context) (Session, error)
}

package api

import (
	"context"
	"fmt"
)

// OperationFunc applies one mutation through mapper and returns the number
// of affected rows
type OperationFunc[M, B any] func(mapper M, bean B) (int, error)

// Executor runs mutations under batch sessions opened from a SessionFactory.
// It holds no per-call state and is safe for concurrent use; every call
// opens its own session.
type Executor struct {
	factory SessionFactory
	logger  Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger
func WithLogger(logger Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor over factory
func NewExecutor(factory SessionFactory, opts ...ExecutorOption) *Executor {
	e := &Executor{
		factory: factory,
		logger:  NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies fn to bean under one batch session.
// A nil bean is a no-op and does not open a session.
func Execute[B, M any](ctx context.Context, e *Executor, bean *B, mapperType MapperType[M], fn OperationFunc[M, B]) (int, error) {
	if bean == nil {
		return 0, nil
	}
	if fn == nil {
		return 0, NewError(ErrCodeInvalidParam, "operation function cannot be nil", nil)
	}

	return withMapper(ctx, e, mapperType, func(m M) (int, error) {
		n, err := fn(m, *bean)
		if err != nil {
			return 0, WrapError(err, ErrCodeOperation, "operation failed")
		}
		return n, nil
	})
}

// BatchExecute applies fn to every bean, in order, under a single batch
// session and mapper, and returns the summed affected rows. Empty input is a
// no-op and does not open a session. The first failing bean aborts the loop;
// work already issued is left to the session's commit policy.
func BatchExecute[B, M any](ctx context.Context, e *Executor, beans []B, mapperType MapperType[M], fn OperationFunc[M, B]) (int, error) {
	if len(beans) == 0 {
		return 0, nil
	}
	if fn == nil {
		return 0, NewError(ErrCodeInvalidParam, "operation function cannot be nil", nil)
	}

	return withMapper(ctx, e, mapperType, func(m M) (int, error) {
		total := 0
		for i, bean := range beans {
			n, err := fn(m, bean)
			if err != nil {
				return 0, WrapError(err, ErrCodeOperation, fmt.Sprintf("operation failed at element %d of %d", i, len(beans)))
			}
			total += n
		}
		return total, nil
	})
}

// BatchExecuteFunc hands an open batch session to fn and releases it
// afterwards. Use it when one unit of work needs several mappers.
func (e *Executor) BatchExecuteFunc(ctx context.Context, fn func(s Session) error) (err error) {
	if fn == nil {
		return NewError(ErrCodeInvalidParam, "session function cannot be nil", nil)
	}

	s, err := e.openBatchSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = joinErrors(err, e.release(s))
	}()

	if opErr := fn(s); opErr != nil {
		return WrapError(opErr, ErrCodeOperation, "batch operation failed")
	}
	return nil
}

func withMapper[M any](ctx context.Context, e *Executor, mapperType MapperType[M], apply func(m M) (int, error)) (affected int, err error) {
	s, err := e.openBatchSession(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if relErr := e.release(s); relErr != nil {
			affected = 0
			err = joinErrors(err, relErr)
		}
	}()

	m, err := GetMapper(s, mapperType)
	if err != nil {
		return 0, err
	}

	affected, err = apply(m)
	if err != nil {
		return 0, err
	}
	e.logger.Debug("session %s: %s affected %d rows", s.ID(), mapperType.Name(), affected)
	return affected, nil
}

func (e *Executor) openBatchSession(ctx context.Context) (Session, error) {
	if e == nil || e.factory == nil {
		return nil, NewError(ErrCodeAcquire, "no session factory configured", nil)
	}

	s, err := e.factory.OpenBatchSession(ctx)
	if err != nil {
		if IsErrorCode(err, ErrCodeAcquire) {
			return nil, err
		}
		return nil, WrapError(err, ErrCodeAcquire, "failed to open batch session")
	}
	if s == nil {
		return nil, NewError(ErrCodeAcquire, "session factory returned no session", nil)
	}

	e.logger.Debug("session %s opened (%s)", s.ID(), s.ExecutorType())
	return s, nil
}

func (e *Executor) release(s Session) error {
	if err := s.Close(); err != nil {
		return WrapError(err, ErrCodeRelease, "failed to release session "+s.ID())
	}
	e.logger.Debug("session %s released", s.ID())
	return nil
}

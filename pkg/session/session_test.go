package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/dal/pkg/api"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debug(format string, args ...interface{}) { l.add(format, args...) }
func (l *recordingLogger) Info(format string, args ...interface{})  { l.add(format, args...) }
func (l *recordingLogger) Warn(format string, args ...interface{})  { l.add(format, args...) }
func (l *recordingLogger) Error(format string, args ...interface{}) { l.add(format, args...) }
func (l *recordingLogger) SetLevel(level api.LogLevel)              {}
func (l *recordingLogger) GetLevel() api.LogLevel                   { return api.LogDebug }

func (l *recordingLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

// itemMapper writes through whatever handle the session currently exposes
type itemMapper struct {
	s *Session
}

func (m *itemMapper) Insert(name string) (int, error) {
	res := m.s.DB().Exec("INSERT INTO items (name) VALUES (?)", name)
	return int(res.RowsAffected), res.Error
}

var itemMapperType = api.NewMapperType[*itemMapper]("items")

func itemRegistry(t *testing.T) *api.MapperRegistry {
	t.Helper()
	r := api.NewMapperRegistry()
	require.NoError(t, api.RegisterMapper(r, itemMapperType, func(s api.Session) (*itemMapper, error) {
		sess, ok := s.(*Session)
		if !ok {
			return nil, errors.New("not a sql session")
		}
		return &itemMapper{s: sess}, nil
	}))
	return r
}

func insertItem(m *itemMapper, name string) (int, error) {
	return m.Insert(name)
}

func TestSession_Identity(t *testing.T) {
	f := newTestFactory(t, testConfig(t), nil)

	s, err := f.OpenBatchSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	other, err := f.OpenSession(context.Background())
	require.NoError(t, err)
	defer other.Close()

	assert.Len(t, s.ID(), 36)
	assert.NotEqual(t, s.ID(), other.ID())
	assert.Equal(t, api.ExecutorBatch, s.ExecutorType())
	assert.Equal(t, api.ExecutorSimple, other.ExecutorType())
}

func TestSession_SimpleModeAutoCommits(t *testing.T) {
	f := newTestFactory(t, testConfig(t), itemRegistry(t))

	s, err := f.OpenSession(context.Background())
	require.NoError(t, err)

	m, err := api.GetMapper(s, itemMapperType)
	require.NoError(t, err)
	n, err := m.Insert("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// visible before release
	assert.Equal(t, int64(1), countItems(t, f))
	require.NoError(t, s.Commit(context.Background()))
	require.NoError(t, s.Close())
}

func TestSession_BatchCommitsOnClose(t *testing.T) {
	f := newTestFactory(t, testConfig(t), itemRegistry(t))

	s, err := f.OpenBatchSession(context.Background())
	require.NoError(t, err)

	m, err := api.GetMapper(s, itemMapperType)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		_, err := m.Insert(name)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	assert.Equal(t, int64(3), countItems(t, f))
}

func TestSession_BatchRollsBackWithoutAutoCommit(t *testing.T) {
	cfg := testConfig(t)
	off := false
	cfg.AutoCommit = &off
	f := newTestFactory(t, cfg, itemRegistry(t))

	s, err := f.OpenBatchSession(context.Background())
	require.NoError(t, err)
	m, err := api.GetMapper(s, itemMapperType)
	require.NoError(t, err)

	_, err = m.Insert("kept")
	require.NoError(t, err)
	require.NoError(t, s.Commit(context.Background()))

	_, err = m.Insert("dropped")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var names []string
	require.NoError(t, f.DB().Table("items").Pluck("name", &names).Error)
	assert.Equal(t, []string{"kept"}, names)
}

func TestSession_Rollback(t *testing.T) {
	f := newTestFactory(t, testConfig(t), itemRegistry(t))

	s, err := f.OpenBatchSession(context.Background())
	require.NoError(t, err)
	m, err := api.GetMapper(s, itemMapperType)
	require.NoError(t, err)

	_, err = m.Insert("discarded")
	require.NoError(t, err)
	require.NoError(t, s.Rollback(context.Background()))

	_, err = m.Insert("kept")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, int64(1), countItems(t, f))
}

func TestSession_CloseTwice(t *testing.T) {
	f := newTestFactory(t, testConfig(t), itemRegistry(t))

	s, err := f.OpenBatchSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Close()
	assert.True(t, api.IsErrorCode(err, api.ErrCodeClosed))

	_, err = s.GetMapper(itemMapperType.Name())
	assert.True(t, api.IsErrorCode(err, api.ErrCodeClosed))
	assert.True(t, api.IsErrorCode(s.Commit(context.Background()), api.ErrCodeClosed))
	assert.True(t, api.IsErrorCode(s.Rollback(context.Background()), api.ErrCodeClosed))
}

func TestSession_UnknownMapper(t *testing.T) {
	f := newTestFactory(t, testConfig(t), itemRegistry(t))

	s, err := f.OpenBatchSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetMapper("orders")
	assert.True(t, api.IsErrorCode(err, api.ErrCodeResolve))
}

func TestExecutor_BatchExecuteOverSQLite(t *testing.T) {
	f := newTestFactory(t, testConfig(t), itemRegistry(t))
	exec := api.NewExecutor(f)

	n, err := api.BatchExecute(context.Background(), exec, []string{"a", "b", "c", "d"}, itemMapperType, insertItem)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(4), countItems(t, f))

	bean := "e"
	n, err = api.Execute(context.Background(), exec, &bean, itemMapperType, insertItem)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(5), countItems(t, f))

	assert.Equal(t, 0, f.Stats().OpenSessions)
}

func TestExecutor_FailurePartwayFollowsCommitPolicy(t *testing.T) {
	failOn := func(m *itemMapper, name string) (int, error) {
		if name == "bad" {
			return 0, errors.New("rejected")
		}
		return m.Insert(name)
	}

	t.Run("auto commit keeps applied elements", func(t *testing.T) {
		f := newTestFactory(t, testConfig(t), itemRegistry(t))
		exec := api.NewExecutor(f)

		n, err := api.BatchExecute(context.Background(), exec, []string{"a", "b", "bad", "c"}, itemMapperType, failOn)
		assert.Equal(t, 0, n)
		assert.True(t, api.IsErrorCode(err, api.ErrCodeOperation))
		assert.ErrorContains(t, err, "element 2 of 4")
		assert.Equal(t, int64(2), countItems(t, f))
		assert.Equal(t, 0, f.Stats().OpenSessions)
	})

	t.Run("no auto commit discards everything", func(t *testing.T) {
		cfg := testConfig(t)
		off := false
		cfg.AutoCommit = &off
		f := newTestFactory(t, cfg, itemRegistry(t))
		exec := api.NewExecutor(f)

		_, err := api.BatchExecute(context.Background(), exec, []string{"a", "bad"}, itemMapperType, failOn)
		assert.True(t, api.IsErrorCode(err, api.ErrCodeOperation))
		assert.Equal(t, int64(0), countItems(t, f))
	})
}

func TestExecutor_BatchExecuteFuncSharesTransaction(t *testing.T) {
	f := newTestFactory(t, testConfig(t), itemRegistry(t))
	exec := api.NewExecutor(f)

	var ids []string
	err := exec.BatchExecuteFunc(context.Background(), func(s api.Session) error {
		ids = append(ids, s.ID())
		m, err := api.GetMapper(s, itemMapperType)
		if err != nil {
			return err
		}
		if _, err := m.Insert("x"); err != nil {
			return err
		}
		// same session, same pending transaction
		again, err := api.GetMapper(s, itemMapperType)
		if err != nil {
			return err
		}
		_, err = again.Insert("y")
		return err
	})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, int64(2), countItems(t, f))
}

package api

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapperType(t *testing.T) {
	mt := NewMapperType[*recordingMapper]("users")
	assert.Equal(t, "users", mt.Name())
	assert.Equal(t, "users(*api.recordingMapper)", mt.String())
}

func TestMapperRegistry_Register(t *testing.T) {
	r := NewMapperRegistry()

	err := r.Register("", func(s Session) (any, error) { return nil, nil })
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam))

	err = r.Register("users", nil)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam))

	require.NoError(t, r.Register("users", func(s Session) (any, error) { return "m", nil }))
	assert.True(t, r.Has("users"))

	err = r.Register("users", func(s Session) (any, error) { return "m", nil })
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam))
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterMapper_NilFactory(t *testing.T) {
	r := NewMapperRegistry()
	err := RegisterMapper[*recordingMapper](r, recordingMapperType, nil)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam))
	assert.False(t, r.Has(recordingMapperType.Name()))
}

func TestMapperRegistry_Names(t *testing.T) {
	r := NewMapperRegistry()
	registerTestMappers(r)

	assert.Equal(t, []string{"other", "recording"}, r.Names())
}

func TestMapperRegistry_ResolveFactoryError(t *testing.T) {
	r := NewMapperRegistry()
	cause := errors.New("session has no sql handle")
	require.NoError(t, r.Register("broken", func(s Session) (any, error) { return nil, cause }))

	_, err := r.Resolve(nil, "broken")
	assert.True(t, IsErrorCode(err, ErrCodeResolve))
	assert.ErrorIs(t, err, cause)
}

func TestMapperRegistry_ResolveNilRegistry(t *testing.T) {
	var r *MapperRegistry
	_, err := r.Resolve(nil, "users")
	assert.True(t, IsErrorCode(err, ErrCodeResolve))
}

func TestGetMapper_BindsToSession(t *testing.T) {
	factory := newSpyFactory()
	registerTestMappers(factory.registry)

	s1, err := factory.OpenBatchSession(context.Background())
	require.NoError(t, err)
	s2, err := factory.OpenBatchSession(context.Background())
	require.NoError(t, err)

	m1, err := GetMapper(s1, recordingMapperType)
	require.NoError(t, err)
	m2, err := GetMapper(s2, recordingMapperType)
	require.NoError(t, err)

	assert.Same(t, s1, m1.session)
	assert.Same(t, s2, m2.session)
	assert.NotSame(t, m1, m2)

	require.NoError(t, s1.Close())
	_, err = GetMapper(s1, recordingMapperType)
	assert.True(t, IsErrorCode(err, ErrCodeResolve))
	assert.ErrorContains(t, err, "session is closed")
}

func TestMapperRegistry_ConcurrentRegister(t *testing.T) {
	r := NewMapperRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			_ = r.Register(name, func(s Session) (any, error) { return name, nil })
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Names(), 20)
}

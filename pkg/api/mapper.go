package api

import (
	"fmt"
	"sort"
	"sync"
)

// MapperType names a mapper and carries its Go type, so resolution can be
// type checked without reflection.
type MapperType[M any] struct {
	name string
}

// NewMapperType creates a mapper descriptor
func NewMapperType[M any](name string) MapperType[M] {
	return MapperType[M]{name: name}
}

// Name returns the registry key of the mapper
func (t MapperType[M]) Name() string {
	return t.name
}

func (t MapperType[M]) String() string {
	var zero M
	return fmt.Sprintf("%s(%T)", t.name, zero)
}

// MapperFactory binds a mapper instance to a session
type MapperFactory func(s Session) (any, error)

// MapperRegistry maps mapper names to factories. Safe for concurrent use.
type MapperRegistry struct {
	mu        sync.RWMutex
	factories map[string]MapperFactory
}

// NewMapperRegistry creates an empty registry
func NewMapperRegistry() *MapperRegistry {
	return &MapperRegistry{
		factories: make(map[string]MapperFactory),
	}
}

// Register adds a factory under name
func (r *MapperRegistry) Register(name string, factory MapperFactory) error {
	if name == "" {
		return NewError(ErrCodeInvalidParam, "mapper name cannot be empty", nil)
	}
	if factory == nil {
		return NewError(ErrCodeInvalidParam, "mapper factory cannot be nil", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return NewError(ErrCodeInvalidParam, "mapper '"+name+"' already registered", nil)
	}
	r.factories[name] = factory
	return nil
}

// RegisterMapper registers a typed factory for t
func RegisterMapper[M any](r *MapperRegistry, t MapperType[M], factory func(s Session) (M, error)) error {
	if factory == nil {
		return NewError(ErrCodeInvalidParam, "mapper factory cannot be nil", nil)
	}
	return r.Register(t.Name(), func(s Session) (any, error) {
		return factory(s)
	})
}

// Has reports whether name is registered
func (r *MapperRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered mapper names in sorted order
func (r *MapperRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the named mapper for s. Session implementations call this
// from GetMapper.
func (r *MapperRegistry) Resolve(s Session, name string) (any, error) {
	if r == nil {
		return nil, NewError(ErrCodeResolve, "no mapper registry configured", nil)
	}

	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, NewError(ErrCodeResolve, "mapper '"+name+"' is not registered", nil)
	}

	m, err := factory(s)
	if err != nil {
		return nil, WrapError(err, ErrCodeResolve, "failed to build mapper '"+name+"'")
	}
	return m, nil
}

// GetMapper resolves t from s and checks the mapper has type M
func GetMapper[M any](s Session, t MapperType[M]) (M, error) {
	var zero M

	h, err := s.GetMapper(t.Name())
	if err != nil {
		if IsErrorCode(err, ErrCodeResolve) {
			return zero, err
		}
		return zero, WrapError(err, ErrCodeResolve, "failed to resolve mapper '"+t.Name()+"'")
	}

	m, ok := h.(M)
	if !ok {
		return zero, NewError(ErrCodeResolve,
			fmt.Sprintf("mapper '%s' has type %T, want %T", t.Name(), h, zero), nil)
	}
	return m, nil
}

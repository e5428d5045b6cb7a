package kvsession

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kasuganosora/dal/pkg/api"
)

// JSONMapper stores beans as JSON documents under prefix + key
type JSONMapper[T any] struct {
	store  Store
	prefix string
	keyOf  func(T) string
}

// JSONMapperType returns the descriptor for a JSON mapper
func JSONMapperType[T any](name string) api.MapperType[*JSONMapper[T]] {
	return api.NewMapperType[*JSONMapper[T]](name)
}

// RegisterJSON registers a JSON mapper. keyOf extracts the bean key.
func RegisterJSON[T any](r *api.MapperRegistry, mt api.MapperType[*JSONMapper[T]], prefix string, keyOf func(T) string) error {
	if keyOf == nil {
		return api.NewError(api.ErrCodeInvalidParam, "key function of mapper '"+mt.Name()+"' cannot be nil", nil)
	}
	if prefix == "" {
		prefix = mt.Name() + ":"
	}

	return api.RegisterMapper(r, mt, func(s api.Session) (*JSONMapper[T], error) {
		store, ok := s.(Store)
		if !ok {
			return nil, fmt.Errorf("session %s (%T) is not a key-value store", s.ID(), s)
		}
		return &JSONMapper[T]{store: store, prefix: prefix, keyOf: keyOf}, nil
	})
}

func (m *JSONMapper[T]) key(bean T) (string, error) {
	k := m.keyOf(bean)
	if k == "" {
		return "", fmt.Errorf("bean %T has an empty key", bean)
	}
	return m.prefix + k, nil
}

// Insert stores a new bean and fails if the key is taken
func (m *JSONMapper[T]) Insert(bean T) (int, error) {
	key, err := m.key(bean)
	if err != nil {
		return 0, err
	}
	_, err = m.store.Get(key)
	switch {
	case err == nil:
		return 0, fmt.Errorf("key %q already exists", key)
	case !errors.Is(err, ErrNotFound):
		return 0, err
	}
	return m.put(key, bean)
}

// Save stores bean, replacing any previous value
func (m *JSONMapper[T]) Save(bean T) (int, error) {
	key, err := m.key(bean)
	if err != nil {
		return 0, err
	}
	return m.put(key, bean)
}

func (m *JSONMapper[T]) put(key string, bean T) (int, error) {
	data, err := json.Marshal(bean)
	if err != nil {
		return 0, fmt.Errorf("encode %q: %w", key, err)
	}
	if err := m.store.Put(key, data); err != nil {
		return 0, err
	}
	return 1, nil
}

// Delete removes bean and reports 1 if it existed
func (m *JSONMapper[T]) Delete(bean T) (int, error) {
	key, err := m.key(bean)
	if err != nil {
		return 0, err
	}
	existed, err := m.store.Delete(key)
	if err != nil || !existed {
		return 0, err
	}
	return 1, nil
}

// Get loads the bean stored under key
func (m *JSONMapper[T]) Get(key string) (T, error) {
	var bean T
	data, err := m.store.Get(m.prefix + key)
	if err != nil {
		return bean, err
	}
	if err := json.Unmarshal(data, &bean); err != nil {
		return bean, fmt.Errorf("decode %q: %w", m.prefix+key, err)
	}
	return bean, nil
}

// List loads every bean under the mapper prefix in key order
func (m *JSONMapper[T]) List() ([]T, error) {
	keys, err := m.store.Keys(m.prefix)
	if err != nil {
		return nil, err
	}

	beans := make([]T, 0, len(keys))
	for _, k := range keys {
		bean, err := m.Get(k[len(m.prefix):])
		if err != nil {
			return nil, err
		}
		beans = append(beans, bean)
	}
	return beans, nil
}

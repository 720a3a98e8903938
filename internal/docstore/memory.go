package docstore

import (
	"fmt"
	"sort"
	"sync"
)

type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{collections: map[string]map[string][]byte{}}
}

func (m *Memory) Has(collection, key string) (bool, error) {
	if !validKey(collection, key) {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[collection][key]
	return ok, nil
}

func (m *Memory) Load(collection, key string, v interface{}) error {
	if !validKey(collection, key) {
		return ErrNotFound
	}
	m.mu.RLock()
	data, ok := m.collections[collection][key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return decode(data, v)
}

func (m *Memory) Save(collection, key string, v interface{}) error {
	return m.put(collection, key, v, true)
}

func (m *Memory) Insert(collection, key string, v interface{}) error {
	return m.put(collection, key, v, false)
}

func (m *Memory) put(collection, key string, v interface{}, overwrite bool) error {
	if err := checkKey(collection, key); err != nil {
		return err
	}
	data, err := encode(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs, ok := m.collections[collection]
	if !ok {
		docs = map[string][]byte{}
		m.collections[collection] = docs
	}
	if _, exists := docs[key]; exists && !overwrite {
		return fmt.Errorf("%w: %s/%s", ErrExists, collection, key)
	}
	docs[key] = data
	return nil
}

func (m *Memory) Delete(collection, key string) error {
	if !validKey(collection, key) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], key)
	return nil
}

func (m *Memory) FindOne(collection, field, value string) (string, error) {
	if err := checkField(field); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.collections[collection]
	for _, key := range sortedKeys(docs) {
		if fieldEquals(docs[key], field, value) {
			return key, nil
		}
	}
	return "", ErrNotFound
}

func (m *Memory) Keys(collection string) ([]string, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.collections[collection]), nil
}

func (m *Memory) Close() error {
	return nil
}

func sortedKeys(docs map[string][]byte) []string {
	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

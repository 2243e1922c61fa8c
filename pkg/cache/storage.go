// ABOUTME: Storage capability consumed by the cache plus an in-memory backend
// ABOUTME: ErrBusy marks transient failures; anything else is permanent
package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrBusy is a transient storage failure; the operation may be retried.
	ErrBusy = errors.New("cache: storage busy")

	// ErrNotExist reports an unknown storage object.
	ErrNotExist = errors.New("cache: storage object does not exist")
)

// Storage persists cache objects by key. Alloc creates the object or opens
// an existing one, growing it to size without discarding content.
type Storage interface {
	Alloc(key string, size int64) error
	WriteAt(key string, p []byte, off int64) (int, error)
	ReadAt(key string, p []byte, off int64) (int, error)
	Close(key string) error
	Remove(key string) error
	List() ([]string, error)
}

// MemoryStorage keeps objects in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) Alloc(key string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj := m.objects[key]
	if int64(len(obj)) < size {
		grown := make([]byte, size)
		copy(grown, obj)
		obj = grown
	}
	m.objects[key] = obj
	return nil
}

func (m *MemoryStorage) WriteAt(key string, p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return 0, ErrNotExist
	}
	if off < 0 || off+int64(len(p)) > int64(len(obj)) {
		return 0, fmt.Errorf("write [%d,%d) outside object of %d bytes", off, off+int64(len(p)), len(obj))
	}
	return copy(obj[off:], p), nil
}

func (m *MemoryStorage) ReadAt(key string, p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return 0, ErrNotExist
	}
	if off < 0 || off+int64(len(p)) > int64(len(obj)) {
		return 0, fmt.Errorf("read [%d,%d) outside object of %d bytes", off, off+int64(len(p)), len(obj))
	}
	return copy(p, obj[off:]), nil
}

func (m *MemoryStorage) Close(key string) error {
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

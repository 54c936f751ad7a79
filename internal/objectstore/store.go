package objectstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is a flat key/value object store.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
	// Get returns ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns objects under prefix, most recently modified first.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Ping(ctx context.Context) error
}

// MemoryStore keeps objects in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	now     func() time.Time
}

type memObject struct {
	body     []byte
	modified time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject), now: time.Now}
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{body: append([]byte(nil), body...), modified: m.now()}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.body...), nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.body)), LastModified: obj.modified})
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func sortNewestFirst(items []ObjectInfo) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].LastModified.Equal(items[j].LastModified) {
			return items[i].Key < items[j].Key
		}
		return items[i].LastModified.After(items[j].LastModified)
	})
}

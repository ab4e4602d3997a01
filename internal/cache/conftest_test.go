package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/kailas-cloud/nova/internal/db"
)

// mockStore is an in-memory store with optional failure hooks.
type mockStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration

	getErr error
	setErr error
}

func newMockStore() *mockStore {
	return &mockStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.data {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *mockStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// countingSource returns a DataSource that counts its invocations.
func countingSource(v any) (DataSource, *int) {
	var mu sync.Mutex
	calls := 0
	return func(context.Context) (any, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return v, nil
	}, &calls
}

package localstore

import (
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process [Storage], used by `laopeng ask` and tests.
type Memory struct {
	mu    sync.Mutex
	data  map[string]string
	quota int64
}

// NewMemory creates an empty store. quota caps the total bytes of stored
// values; zero means unlimited.
func NewMemory(quota int64) *Memory {
	return &Memory{data: make(map[string]string), quota: quota}
}

// Get returns the stored value for key.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set stores value under key, subject to the quota.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quota > 0 {
		var total int64
		for k, v := range m.data {
			if k != key {
				total += int64(len(v))
			}
		}
		if total+int64(len(value)) > m.quota {
			return fmt.Errorf("set %s: %w", key, ErrQuotaExceeded)
		}
	}
	m.data[key] = value
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns all stored keys in sorted order.
func (m *Memory) Keys() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}


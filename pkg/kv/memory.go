package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store with an optional byte quota.
// It is safe for concurrent use. Contents are lost on process restart,
// which makes it the natural backend for the session tier and for tests.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]memEntry
	maxBytes int64
	used     int64
}

// NewMemoryStore creates an in-memory store. maxBytes <= 0 disables the quota.
func NewMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memEntry),
		maxBytes: maxBytes,
	}
}

// Get returns the value for key, or ErrNotFound. Expired entries are
// removed on read.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	if e.expired(time.Now()) {
		m.removeLocked(key)
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value under key, replacing any previous value.
// Returns ErrQuotaExceeded when the byte quota would be exceeded.
func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cost := int64(len(key) + len(value))
	prior := int64(0)
	if old, ok := m.entries[key]; ok {
		prior = int64(len(key) + len(old.value))
	}
	if m.maxBytes > 0 && m.used-prior+cost > m.maxBytes {
		return ErrQuotaExceeded
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = memEntry{value: value, expiresAt: expiresAt}
	m.used += cost - prior
	return nil
}

// Remove deletes the value for key.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
	return nil
}

// Keys returns all live keys that start with prefix.
func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) removeLocked(key string) {
	if e, ok := m.entries[key]; ok {
		m.used -= int64(len(key) + len(e.value))
		delete(m.entries, key)
	}
}

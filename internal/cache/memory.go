package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
}

// MemoryCache is the process-local L1 level. Values are stored as given and
// copied into the caller's destination on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	maxTTL  time.Duration
	now     func() time.Time
}

// NewMemoryCache returns a cache whose entries never outlive maxTTL, whatever
// TTL the caller asks for. Zero means no cap.
func NewMemoryCache(maxTTL time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		maxTTL:  maxTTL,
		now:     time.Now,
	}
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.maxTTL > 0 && (ttl <= 0 || ttl > m.maxTTL) {
		ttl = m.maxTTL
	}
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) lookup(key string) (interface{}, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	value, ok := m.lookup(key)
	if !ok {
		return ErrCacheMiss
	}
	return copyValue(value, dest)
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// DeletePattern removes keys matching a redis-style glob. Only the subset of
// glob syntax shared with path.Match is supported.
func (m *MemoryCache) DeletePattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if ok, err := path.Match(pattern, key); err != nil {
			return err
		} else if ok {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryCache) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"entries": len(m.entries),
		"max_ttl": m.maxTTL.String(),
	}
}

func (m *MemoryCache) Health(context.Context) error { return nil }

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

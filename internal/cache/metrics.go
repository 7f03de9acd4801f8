package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// CacheMetrics counts cache traffic. Lookups recorded with a kind (a task
// owner's "list" or "stats" payload) are also counted per kind, so the two
// read paths show up separately on /metrics.
type CacheMetrics struct {
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	started time.Time

	mu    sync.RWMutex
	kinds map[string]*kindCounter
}

type kindCounter struct {
	hits   atomic.Int64
	misses atomic.Int64
}

type KindStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// MetricsSnapshot is a point-in-time copy of CacheMetrics.
type MetricsSnapshot struct {
	Hits    int64                `json:"hits"`
	Misses  int64                `json:"misses"`
	Errors  int64                `json:"errors"`
	Sets    int64                `json:"sets"`
	Deletes int64                `json:"deletes"`
	Uptime  string               `json:"uptime"`
	Kinds   map[string]KindStats `json:"kinds,omitempty"`
}

func NewCacheMetrics() *CacheMetrics {
	return &CacheMetrics{
		started: time.Now(),
		kinds:   make(map[string]*kindCounter),
	}
}

func (m *CacheMetrics) RecordHit()    { m.hits.Add(1) }
func (m *CacheMetrics) RecordMiss()   { m.misses.Add(1) }
func (m *CacheMetrics) RecordError()  { m.errors.Add(1) }
func (m *CacheMetrics) RecordSet()    { m.sets.Add(1) }
func (m *CacheMetrics) RecordDelete() { m.deletes.Add(1) }

// RecordLookup counts a hit or miss both overall and under kind.
func (m *CacheMetrics) RecordLookup(kind string, hit bool) {
	k := m.kind(kind)
	if hit {
		m.RecordHit()
		k.hits.Add(1)
		return
	}
	m.RecordMiss()
	k.misses.Add(1)
}

func (m *CacheMetrics) kind(name string) *kindCounter {
	m.mu.RLock()
	k, ok := m.kinds[name]
	m.mu.RUnlock()
	if ok {
		return k
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok = m.kinds[name]; !ok {
		k = &kindCounter{}
		m.kinds[name] = k
	}
	return k
}

func (m *CacheMetrics) GetStats() MetricsSnapshot {
	s := MetricsSnapshot{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Errors:  m.errors.Load(),
		Sets:    m.sets.Load(),
		Deletes: m.deletes.Load(),
		Uptime:  time.Since(m.started).Round(time.Second).String(),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.kinds) > 0 {
		s.Kinds = make(map[string]KindStats, len(m.kinds))
		for name, k := range m.kinds {
			hits, misses := k.hits.Load(), k.misses.Load()
			s.Kinds[name] = KindStats{Hits: hits, Misses: misses, HitRate: hitRate(hits, misses)}
		}
	}
	return s
}

// HitRate is a percentage in [0, 100].
func (m *CacheMetrics) HitRate() float64 {
	return hitRate(m.hits.Load(), m.misses.Load())
}

func hitRate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses) * 100
}

package metrics

import "sync/atomic"

// CacheMetric counts hits and misses of one cache.
type CacheMetric struct {
	name   string
	hits   int64
	misses int64
}

func newCacheMetric(name string) *CacheMetric {
	return &CacheMetric{name: name}
}

// Hit records a cache hit.
func (m *CacheMetric) Hit() {
	if !Enabled() {
		return
	}
	atomic.AddInt64(&m.hits, 1)
}

// Miss records a cache miss.
func (m *CacheMetric) Miss() {
	if !Enabled() {
		return
	}
	atomic.AddInt64(&m.misses, 1)
}

// Name returns the metric name.
func (m *CacheMetric) Name() string { return m.name }

// Hits returns the number of recorded hits.
func (m *CacheMetric) Hits() int64 { return atomic.LoadInt64(&m.hits) }

// Misses returns the number of recorded misses.
func (m *CacheMetric) Misses() int64 { return atomic.LoadInt64(&m.misses) }

// HitRate returns hits / (hits + misses), or 0 without lookups.
func (m *CacheMetric) HitRate() float64 {
	h, ms := m.Hits(), m.Misses()
	if h+ms == 0 {
		return 0
	}
	return float64(h) / float64(h+ms)
}

// Reset clears the counters.
func (m *CacheMetric) Reset() {
	atomic.StoreInt64(&m.hits, 0)
	atomic.StoreInt64(&m.misses, 0)
}

// CacheStats is a snapshot of a CacheMetric.
type CacheStats struct {
	Name    string  `json:"name"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns a snapshot.
func (m *CacheMetric) Stats() CacheStats {
	return CacheStats{Name: m.name, Hits: m.Hits(), Misses: m.Misses(), HitRate: m.HitRate()}
}

var (
	HypercubeCache = newCacheMetric("hypercube")
	SyncStateCache = newCacheMetric("sync_state")
	PreviewCache   = newCacheMetric("preview")
)

// AllCacheMetrics returns all registered cache metrics.
func AllCacheMetrics() []*CacheMetric {
	return []*CacheMetric{HypercubeCache, SyncStateCache, PreviewCache}
}

// AllCacheStats returns stats for caches that saw at least one lookup.
func AllCacheStats() []CacheStats {
	var out []CacheStats
	for _, m := range AllCacheMetrics() {
		if m.Hits()+m.Misses() > 0 {
			out = append(out, m.Stats())
		}
	}
	return out
}

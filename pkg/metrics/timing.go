// Package metrics provides performance instrumentation for beadnav.
//
// Two layers are kept side by side:
//   - in-process timing and cache hit/miss metrics updated with atomics,
//     cheap enough for the owner loop and reported by `beadnav counts --stats`
//   - prometheus collectors for the background scheduler and the
//     coalescers, served when --metrics-addr is set
//
// Timing and cache collection is on unless BEADNAV_METRICS=0.
//
//	func countPreview() {
//	    defer metrics.Timer(metrics.PreviewCount)()
//	    ...
//	}
package metrics

import (
	"os"
	"sync/atomic"
	"time"
)

var enabled atomic.Bool

func init() {
	enabled.Store(os.Getenv("BEADNAV_METRICS") != "0")
}

// Enabled reports whether timing and cache metrics are collected.
func Enabled() bool { return enabled.Load() }

// SetEnabled turns collection on or off.
func SetEnabled(e bool) { enabled.Store(e) }

// TimingMetric accumulates durations of one named operation.
type TimingMetric struct {
	name  string
	count atomic.Int64
	total atomic.Int64
	max   atomic.Int64
	min   atomic.Int64 // 0 until the first sample
}

func newTimingMetric(name string) *TimingMetric {
	return &TimingMetric{name: name}
}

// Record adds one sample.
func (m *TimingMetric) Record(d time.Duration) {
	if !Enabled() {
		return
	}
	ns := max(d.Nanoseconds(), 1)
	m.count.Add(1)
	m.total.Add(ns)
	swapIf(&m.max, ns, func(old int64) bool { return ns > old })
	swapIf(&m.min, ns, func(old int64) bool { return old == 0 || ns < old })
}

// swapIf stores v in a while better(current) holds.
func swapIf(a *atomic.Int64, v int64, better func(int64) bool) {
	for {
		old := a.Load()
		if !better(old) || a.CompareAndSwap(old, v) {
			return
		}
	}
}

// Name returns the metric name.
func (m *TimingMetric) Name() string { return m.name }

// Count returns the number of samples.
func (m *TimingMetric) Count() int64 { return m.count.Load() }

// Stats returns a snapshot in milliseconds.
func (m *TimingMetric) Stats() TimingStats {
	n, total := m.count.Load(), m.total.Load()
	s := TimingStats{
		Name:    m.name,
		Count:   n,
		TotalMs: ms(total),
		MaxMs:   ms(m.max.Load()),
		MinMs:   ms(m.min.Load()),
	}
	if n > 0 {
		s.AvgMs = ms(total / n)
	}
	return s
}

// Reset drops all samples.
func (m *TimingMetric) Reset() {
	m.count.Store(0)
	m.total.Store(0)
	m.max.Store(0)
	m.min.Store(0)
}

func ms(ns int64) float64 { return float64(ns) / 1e6 }

// TimingStats is a snapshot of a TimingMetric.
type TimingStats struct {
	Name    string  `json:"name"`
	Count   int64   `json:"count"`
	TotalMs float64 `json:"total_ms"`
	AvgMs   float64 `json:"avg_ms"`
	MaxMs   float64 `json:"max_ms"`
	MinMs   float64 `json:"min_ms,omitempty"`
}

// Timer starts timing m and returns the function that records the sample.
func Timer(m *TimingMetric) func() {
	if m == nil || !Enabled() {
		return func() {}
	}
	start := time.Now()
	return func() { m.Record(time.Since(start)) }
}

var (
	PreviewCount     = newTimingMetric("preview_count")
	DistributionScan = newTimingMetric("distribution_scan")
	FullUpdate       = newTimingMetric("distribution_full_update")
	PendingDrain     = newTimingMetric("distribution_pending_drain")
	HypercubeBuild   = newTimingMetric("hypercube_build")
	RegistryLock     = newTimingMetric("sync_registry_lock")
	ResolverRefresh  = newTimingMetric("resolver_refresh")
	UIRender         = newTimingMetric("ui_render")
)

var timings = []*TimingMetric{
	PreviewCount,
	DistributionScan,
	FullUpdate,
	PendingDrain,
	HypercubeBuild,
	RegistryLock,
	ResolverRefresh,
	UIRender,
}

// ResetAll clears every timing and cache metric.
func ResetAll() {
	for _, m := range timings {
		m.Reset()
	}
	for _, m := range AllCacheMetrics() {
		m.Reset()
	}
}

// AllTimingStats returns stats for the operations that ran at least once.
func AllTimingStats() []TimingStats {
	var out []TimingStats
	for _, m := range timings {
		if m.Count() > 0 {
			out = append(out, m.Stats())
		}
	}
	return out
}

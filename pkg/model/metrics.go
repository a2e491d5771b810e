package model

import "go.uber.org/atomic"

// Metrics counts cache and queue activity. All counters are safe for
// concurrent use.
type Metrics struct {
	Hits        atomic.Int64
	Misses      atomic.Int64
	Expirations atomic.Int64
	Evictions   atomic.Int64
	Enqueued    atomic.Int64
	Completed   atomic.Int64
	Abandoned   atomic.Int64
	Conflicts   atomic.Int64
	Drains      atomic.Int64
}

// NewMetrics creates a zeroed Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Expirations int64 `json:"expirations"`
	Evictions   int64 `json:"evictions"`
	Enqueued    int64 `json:"enqueued"`
	Completed   int64 `json:"completed"`
	Abandoned   int64 `json:"abandoned"`
	Conflicts   int64 `json:"conflicts"`
	Drains      int64 `json:"drains"`
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Hits:        m.Hits.Load(),
		Misses:      m.Misses.Load(),
		Expirations: m.Expirations.Load(),
		Evictions:   m.Evictions.Load(),
		Enqueued:    m.Enqueued.Load(),
		Completed:   m.Completed.Load(),
		Abandoned:   m.Abandoned.Load(),
		Conflicts:   m.Conflicts.Load(),
		Drains:      m.Drains.Load(),
	}
}

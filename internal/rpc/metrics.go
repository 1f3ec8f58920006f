package rpc

import (
	"sort"
	"sync"
	"time"
)

// Metrics aggregates per-operation request counts and latency samples for
// the local status surface; the OTEL counters are the exported signal.
type Metrics struct {
	mu             sync.RWMutex
	requestCounts  map[string]int64
	requestErrors  map[string]int64
	requestLatency map[string][]time.Duration
	maxSamples     int
	startTime      time.Time
}

// NewMetrics creates a metrics collector keeping the last 1000 latency
// samples per operation.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCounts:  make(map[string]int64),
		requestErrors:  make(map[string]int64),
		requestLatency: make(map[string][]time.Duration),
		maxSamples:     1000,
		startTime:      time.Now(),
	}
}

// RecordRequest tracks one completed request.
func (m *Metrics) RecordRequest(operation string, latency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCounts[operation]++
	if failed {
		m.requestErrors[operation]++
	}

	samples := m.requestLatency[operation]
	if len(samples) >= m.maxSamples {
		samples = samples[1:]
	}
	m.requestLatency[operation] = append(samples, latency)
}

// OperationStats is one operation's aggregate line.
type OperationStats struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Errors    int64   `json:"errors"`
	P50Ms     float64 `json:"p50_ms"`
	P99Ms     float64 `json:"p99_ms"`
}

// Snapshot returns aggregate stats per operation, sorted by name.
func (m *Metrics) Snapshot() []OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]OperationStats, 0, len(m.requestCounts))
	for op, count := range m.requestCounts {
		stats := OperationStats{Operation: op, Count: count, Errors: m.requestErrors[op]}
		if samples := m.requestLatency[op]; len(samples) > 0 {
			sorted := append([]time.Duration(nil), samples...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			stats.P50Ms = ms(sorted[len(sorted)/2])
			stats.P99Ms = ms(sorted[len(sorted)*99/100])
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Uptime reports time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

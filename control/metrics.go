// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for engine-level monitoring.
// Counters are registered by name once and then updated lock-free from the
// engine loop; snapshots may be taken from any goroutine.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known counter names maintained by the engine.
const (
	MetricAccepted       = "clients.accepted"
	MetricDisconnected   = "clients.disconnected"
	MetricRejected       = "clients.rejected"
	MetricBytesIn        = "bytes.received"
	MetricBytesOut       = "bytes.sent"
	MetricSendsCompleted = "sends.completed"
	MetricStaleDropped   = "requests.stale"
	MetricCallbackPanics = "callbacks.panics"
	MetricEventsHandled  = "events.handled"
)

// Counter is a monotonically increasing metric.
type Counter struct {
	v atomic.Uint64
}

// Add increments the counter by n.
func (c *Counter) Add(n uint64) { c.v.Add(n) }

// Inc increments the counter by one.
func (c *Counter) Inc() { c.v.Add(1) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return c.v.Load() }

// MetricsRegistry holds named counters and free-form gauges.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]any
	started  time.Time
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	now := time.Now()
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]any),
		started:  now,
		updated:  now,
	}
}

// Counter returns the counter registered under name, creating it on first use.
func (mr *MetricsRegistry) Counter(name string) *Counter {
	mr.mu.RLock()
	c, ok := mr.counters[name]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok := mr.counters[name]; ok {
		return c
	}
	c = &Counter{}
	mr.counters[name] = c
	return c
}

// Set sets or updates a gauge.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.gauges[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// StartedAt returns the registry creation time.
func (mr *MetricsRegistry) StartedAt() time.Time {
	return mr.started
}

// GetSnapshot returns the latest counters and gauges.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.counters)+len(mr.gauges)+1)
	for k, v := range mr.gauges {
		out[k] = v
	}
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	out["updated_at"] = mr.updated
	return out
}

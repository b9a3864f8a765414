// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for the dial path. Hot counters are plain atomics
// bumped from the event loop; the registry holds exportable snapshots
// for monitoring and debug probes.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// ClientCounters are the hot-path counters of the connect machinery.
type ClientCounters struct {
	DialsStarted    atomic.Uint64
	Established     atomic.Uint64
	FailedTransport atomic.Uint64
	FailedProtocol  atomic.Uint64
	TLSRetries      atomic.Uint64
	TimeoutsFired   atomic.Uint64
	ProxyReplies    atomic.Uint64
}

// Publish copies current counter values into the registry.
func (c *ClientCounters) Publish(reg *MetricsRegistry) {
	reg.Set("dial.started", c.DialsStarted.Load())
	reg.Set("conn.established", c.Established.Load())
	reg.Set("conn.failed.transport", c.FailedTransport.Load())
	reg.Set("conn.failed.protocol", c.FailedProtocol.Load())
	reg.Set("tls.retries", c.TLSRetries.Load())
	reg.Set("timeout.fired", c.TimeoutsFired.Load())
	reg.Set("proxy.replies", c.ProxyReplies.Load())
}

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Updated reports when the registry last changed.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

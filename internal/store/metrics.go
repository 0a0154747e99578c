package store

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks store-level counters and mirrors them into Prometheus,
// grounded on the teacher's QueueMetrics (internal/queue/metrics.go) but
// registered through a real prometheus.Registry instead of hand-rolled
// text output.
type Metrics struct {
	mu sync.RWMutex

	enqueued  int64
	completed int64
	failed    int64
	expired   int64
	retried   int64

	promEnqueued  prometheus.Counter
	promCompleted prometheus.Counter
	promFailed    prometheus.Counter
	promExpired   prometheus.Counter
	promRetried   prometheus.Counter
	promPending   prometheus.Gauge
	promProcess   prometheus.Gauge
}

// NewMetrics creates and registers the store's Prometheus collectors. A nil
// registerer is accepted for tests that don't care about export.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promEnqueued:  prometheus.NewCounter(prometheus.CounterOpts{Name: "iobridge_messages_enqueued_total"}),
		promCompleted: prometheus.NewCounter(prometheus.CounterOpts{Name: "iobridge_messages_completed_total"}),
		promFailed:    prometheus.NewCounter(prometheus.CounterOpts{Name: "iobridge_messages_failed_total"}),
		promExpired:   prometheus.NewCounter(prometheus.CounterOpts{Name: "iobridge_messages_expired_total"}),
		promRetried:   prometheus.NewCounter(prometheus.CounterOpts{Name: "iobridge_messages_retried_total"}),
		promPending:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "iobridge_messages_pending"}),
		promProcess:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "iobridge_messages_processing"}),
	}
	if reg != nil {
		reg.MustRegister(m.promEnqueued, m.promCompleted, m.promFailed, m.promExpired, m.promRetried, m.promPending, m.promProcess)
	}
	return m
}

func (m *Metrics) RecordEnqueued() {
	m.mu.Lock()
	m.enqueued++
	m.mu.Unlock()
	m.promEnqueued.Inc()
}

func (m *Metrics) RecordCompleted() {
	m.mu.Lock()
	m.completed++
	m.mu.Unlock()
	m.promCompleted.Inc()
}

func (m *Metrics) RecordFailed() {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
	m.promFailed.Inc()
}

func (m *Metrics) RecordExpired() {
	m.mu.Lock()
	m.expired++
	m.mu.Unlock()
	m.promExpired.Inc()
}

func (m *Metrics) RecordRetried() {
	m.mu.Lock()
	m.retried++
	m.mu.Unlock()
	m.promRetried.Inc()
}

// UpdateGauges refreshes the live-count gauges scraped by Prometheus.
func (m *Metrics) UpdateGauges(pending, processing int) {
	m.promPending.Set(float64(pending))
	m.promProcess.Set(float64(processing))
}

// Counters returns a point-in-time snapshot of the cumulative counters for
// the Janitor's snapshot_stats operation.
func (m *Metrics) Counters() (enqueued, completed, failed, expired, retried int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enqueued, m.completed, m.failed, m.expired, m.retried
}

package store

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_CountersAccumulate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEnqueued()
	m.RecordEnqueued()
	m.RecordCompleted()
	m.RecordFailed()
	m.RecordExpired()
	m.RecordRetried()

	enqueued, completed, failed, expired, retried := m.Counters()
	assert.Equal(t, int64(2), enqueued)
	assert.Equal(t, int64(1), completed)
	assert.Equal(t, int64(1), failed)
	assert.Equal(t, int64(1), expired)
	assert.Equal(t, int64(1), retried)
}

func TestMetrics_NilRegistererIsSafe(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordEnqueued()
	enqueued, _, _, _, _ := m.Counters()
	assert.Equal(t, int64(1), enqueued)
}

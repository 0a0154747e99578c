package buffer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/iobridge/internal/bridgeerr"
	"github.com/armorclaw/iobridge/internal/logging"
	"github.com/armorclaw/iobridge/internal/mapping"
	"github.com/armorclaw/iobridge/internal/model"
	"github.com/armorclaw/iobridge/internal/store"
)

func newTestBuffer(t *testing.T, cfg Config) *Buffer {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{DBPath: filepath.Join(t.TempDir(), "buffer.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, mapping.New(nil), cfg, logging.Global())
}

func TestEnqueue_CoercesValueAndAssignsDefaults(t *testing.T) {
	buf := newTestBuffer(t, Config{DefaultRetries: 2, DefaultTTL: time.Hour})

	out, err := buf.Enqueue(context.Background(), model.Message{
		Destination: model.EndpointOPCUA,
		TopicOrNode: "ns=2;s=X",
		Value:       " 3.14 ",
		DataType:    model.TypeFloat,
		Priority:    model.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, "3.14", out.Value)
	assert.Equal(t, 2, out.MaxRetries)
	assert.False(t, out.ExpireAt.IsZero())
}

func TestEnqueue_RejectsInvalidDataType(t *testing.T) {
	buf := newTestBuffer(t, Config{})
	_, err := buf.Enqueue(context.Background(), model.Message{DataType: model.DataType("Blob"), Priority: model.PriorityNormal})
	require.Error(t, err)
	be, ok := bridgeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.KindConfiguration, be.Kind)
}

func TestEnqueue_ArchivesOnCoercionFailure(t *testing.T) {
	buf := newTestBuffer(t, Config{DefaultRetries: 2, DefaultTTL: time.Hour})
	ctx := context.Background()

	_, err := buf.Enqueue(ctx, model.Message{
		Destination: model.EndpointOPCUA,
		TopicOrNode: "ns=2;s=X",
		Value:       "not-a-number",
		DataType:    model.TypeInt32,
		Priority:    model.PriorityNormal,
	})
	require.Error(t, err)
	be, ok := bridgeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.KindTypeCoercion, be.Kind)

	failed, err := buf.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "coerce")

	stats, err := buf.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestEnqueue_CoalescesPendingRowForConfiguredRoute(t *testing.T) {
	table := mapping.New([]mapping.Entry{
		{MQTTTopic: "sensors/x", OPCUANode: "ns=2;s=X", DataType: model.TypeFloat, Direction: mapping.DirectionBidirectional, Coalesce: true},
	})
	st, err := store.Open(context.Background(), store.Config{DBPath: filepath.Join(t.TempDir(), "buffer.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	buf := New(st, table, Config{}, logging.Global())
	ctx := context.Background()

	first, err := buf.Enqueue(ctx, model.Message{Destination: model.EndpointOPCUA, TopicOrNode: "ns=2;s=X", Value: "1", DataType: model.TypeFloat, Priority: model.PriorityNormal})
	require.NoError(t, err)
	second, err := buf.Enqueue(ctx, model.Message{Destination: model.EndpointOPCUA, TopicOrNode: "ns=2;s=X", Value: "2", DataType: model.TypeFloat, Priority: model.PriorityNormal})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	stats, err := buf.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestEnqueue_RejectsAtCapacity(t *testing.T) {
	buf := newTestBuffer(t, Config{MaxSize: 1})
	ctx := context.Background()

	_, err := buf.Enqueue(ctx, model.Message{Destination: model.EndpointOPCUA, TopicOrNode: "a", Value: "1", DataType: model.TypeInt32, Priority: model.PriorityNormal})
	require.NoError(t, err)

	_, err = buf.Enqueue(ctx, model.Message{Destination: model.EndpointOPCUA, TopicOrNode: "b", Value: "2", DataType: model.TypeInt32, Priority: model.PriorityNormal})
	require.Error(t, err)
	be, ok := bridgeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, bridgeerr.KindBufferFull, be.Kind)
}

func TestRetryRequeuesWithinBudget(t *testing.T) {
	buf := newTestBuffer(t, Config{DefaultRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond})
	ctx := context.Background()

	msg, err := buf.Enqueue(ctx, model.Message{Destination: model.EndpointOPCUA, TopicOrNode: "a", Value: "1", DataType: model.TypeInt32, Priority: model.PriorityNormal})
	require.NoError(t, err)

	claimed, err := buf.Claim(ctx, 10, "w1", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, buf.Retry(ctx, msg.ID, claimed[0].RetryCount, "transient"))

	stats, err := buf.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestSnapshotStatsRecordsHistory(t *testing.T) {
	buf := newTestBuffer(t, Config{})
	ctx := context.Background()

	_, err := buf.Enqueue(ctx, model.Message{Destination: model.EndpointOPCUA, TopicOrNode: "a", Value: "1", DataType: model.TypeInt32, Priority: model.PriorityNormal})
	require.NoError(t, err)

	require.NoError(t, buf.SnapshotStats(ctx))

	history, err := buf.MetricHistory(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, history)

	byName := map[model.MetricName]float64{}
	for _, snap := range history {
		byName[snap.Name] = snap.Value
	}
	assert.Equal(t, float64(1), byName[model.MetricEnqueued])
	assert.Equal(t, float64(1), byName[model.MetricPendingCurrent])
	assert.Contains(t, byName, model.MetricThroughputPerMinute)
}

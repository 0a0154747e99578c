package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/logging"
	"github.com/armorclaw/iobridge/internal/model"
)

type fakeBuffer struct {
	mu        sync.Mutex
	pending   []model.Message
	completed []int64
	retried   []int64
	rejected  []int64
}

func (f *fakeBuffer) Claim(ctx context.Context, limit int, workerID string, leaseDuration time.Duration) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	claimed := f.pending[:n]
	f.pending = f.pending[n:]
	return claimed, nil
}

func (f *fakeBuffer) Complete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeBuffer) Retry(ctx context.Context, id int64, backoffAttempt int, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeBuffer) Reject(ctx context.Context, id int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, id)
	return nil
}

func TestDispatcher_DeliversOkToCompletion(t *testing.T) {
	buf := &fakeBuffer{pending: []model.Message{{ID: 1, Destination: model.EndpointMQTT}}}
	egress := map[model.Endpoint]adapter.Egress{
		model.EndpointMQTT: adapter.EgressFunc(func(ctx context.Context, msg model.Message) (adapter.Outcome, error) {
			return adapter.Ok, nil
		}),
	}
	d := New(buf, egress, Config{WorkerCount: 1, BatchSize: 4, IdleBackoff: 10 * time.Millisecond}, logging.Global())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	buf.mu.Lock()
	defer buf.mu.Unlock()
	assert.Contains(t, buf.completed, int64(1))
}

func TestDispatcher_RetryableSchedulesRetry(t *testing.T) {
	buf := &fakeBuffer{pending: []model.Message{{ID: 2, Destination: model.EndpointOPCUA}}}
	egress := map[model.Endpoint]adapter.Egress{
		model.EndpointOPCUA: adapter.EgressFunc(func(ctx context.Context, msg model.Message) (adapter.Outcome, error) {
			return adapter.Retryable, assert.AnError
		}),
	}
	d := New(buf, egress, Config{WorkerCount: 1, BatchSize: 4, IdleBackoff: 10 * time.Millisecond}, logging.Global())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	buf.mu.Lock()
	defer buf.mu.Unlock()
	assert.Contains(t, buf.retried, int64(2))
}

func TestDispatcher_PermanentRejects(t *testing.T) {
	buf := &fakeBuffer{pending: []model.Message{{ID: 3, Destination: model.EndpointSAP}}}
	egress := map[model.Endpoint]adapter.Egress{
		model.EndpointSAP: adapter.EgressFunc(func(ctx context.Context, msg model.Message) (adapter.Outcome, error) {
			return adapter.Permanent, assert.AnError
		}),
	}
	d := New(buf, egress, Config{WorkerCount: 1, BatchSize: 4, IdleBackoff: 10 * time.Millisecond}, logging.Global())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	buf.mu.Lock()
	defer buf.mu.Unlock()
	assert.Contains(t, buf.rejected, int64(3))
}

func TestDispatcher_UnknownDestinationRejects(t *testing.T) {
	buf := &fakeBuffer{pending: []model.Message{{ID: 4, Destination: model.Endpoint("ftp")}}}
	d := New(buf, map[model.Endpoint]adapter.Egress{}, Config{WorkerCount: 1, BatchSize: 4, IdleBackoff: 10 * time.Millisecond}, logging.Global())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = d.Run(ctx)

	buf.mu.Lock()
	defer buf.mu.Unlock()
	assert.Contains(t, buf.rejected, int64(4))
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	buf := &fakeBuffer{}
	d := New(buf, map[model.Endpoint]adapter.Egress{}, Config{WorkerCount: 2, BatchSize: 4, IdleBackoff: 10 * time.Millisecond}, logging.Global())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancellation")
	}
}

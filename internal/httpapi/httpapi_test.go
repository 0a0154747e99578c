package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/iobridge/internal/logging"
	"github.com/armorclaw/iobridge/internal/model"
)

type fakeBuffer struct {
	stats   model.Stats
	err     error
	circuit string
}

func (f *fakeBuffer) Stats(ctx context.Context) (model.Stats, error) { return f.stats, f.err }
func (f *fakeBuffer) CircuitState() string                          { return f.circuit }

func TestHealthz_OkWhenCircuitClosed(t *testing.T) {
	buf := &fakeBuffer{stats: model.Stats{Pending: 3, Processing: 1}, circuit: "closed"}
	srv := New(buf, prometheus.NewRegistry(), logging.Global())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler("/ws").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.PendingCount)
}

func TestHealthz_DegradedWhenCircuitOpen(t *testing.T) {
	buf := &fakeBuffer{circuit: "open"}
	srv := New(buf, prometheus.NewRegistry(), logging.Global())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler("/ws").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBroadcast_DoesNotBlockWithNoSubscribers(t *testing.T) {
	buf := &fakeBuffer{circuit: "closed"}
	srv := New(buf, prometheus.NewRegistry(), logging.Global())
	srv.Broadcast(model.Stats{Pending: 1})
}

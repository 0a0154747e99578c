// Package httpapi exposes the bridge's optional HTTP surface (spec.md
// §6.5): health, Prometheus metrics, and a websocket stream of stats
// snapshots pushed on Run's interval. `buffer-monitor monitor --follow`
// does not use this stream; it polls the store itself. The broadcast side is
// grounded on the teacher's pkg/eventbus subscriber pattern, swapped from
// Matrix events to stats snapshots and from its placeholder websocket
// package to a real gorilla/websocket upgrader.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/armorclaw/iobridge/internal/logging"
	"github.com/armorclaw/iobridge/internal/model"
)

// Buffer is the narrow subset of *buffer.Buffer the HTTP surface depends on.
type Buffer interface {
	Stats(ctx context.Context) (model.Stats, error)
	CircuitState() string
}

// Server hosts /healthz, /metrics, and a websocket stats stream.
type Server struct {
	buf      Buffer
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu          sync.RWMutex
	subscribers map[string]chan model.Stats
}

func New(buf Buffer, registry *prometheus.Registry, log *logging.Logger) *Server {
	return &Server{
		buf:      buf,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:         log.WithComponent("httpapi"),
		subscribers: make(map[string]chan model.Stats),
	}
}

// Handler returns the mux serving /healthz, /metrics, and the websocket
// path.
func (s *Server) Handler(websocketPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(websocketPath, s.handleWebSocket)
	return mux
}

type healthResponse struct {
	Status        string `json:"status"`
	CircuitState  string `json:"circuit_state"`
	PendingCount  int    `json:"pending_count"`
	ProcessingCount int  `json:"processing_count"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.buf.Stats(r.Context())
	status := "ok"
	code := http.StatusOK
	if err != nil || s.buf.CircuitState() == "open" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	resp := healthResponse{
		Status:          status,
		CircuitState:    s.buf.CircuitState(),
		PendingCount:    stats.Pending,
		ProcessingCount: stats.Processing,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := r.RemoteAddr
	ch := make(chan model.Stats, 4)
	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
		close(ch)
	}()

	for stats := range ch {
		if err := conn.WriteJSON(stats); err != nil {
			return
		}
	}
}

// Broadcast pushes stats to every connected websocket subscriber,
// dropping the update for a subscriber whose channel is full rather than
// blocking Run's broadcast loop.
func (s *Server) Broadcast(stats model.Stats) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- stats:
		default:
		}
	}
}

// Run starts broadcasting stats on the given interval until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.buf.Stats(ctx)
			if err != nil {
				continue
			}
			s.Broadcast(stats)
		}
	}
}

// Command bridge runs the MQTT<->OPC-UA persistent message buffer and
// dispatch pipeline (spec.md §2): Store, Buffer, Mapping Table, Dispatcher,
// and Janitor wired together, with an optional HTTP surface for health,
// metrics, and live monitoring.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/bridgeerr"
	"github.com/armorclaw/iobridge/internal/buffer"
	"github.com/armorclaw/iobridge/internal/buffercfg"
	"github.com/armorclaw/iobridge/internal/dispatcher"
	"github.com/armorclaw/iobridge/internal/httpapi"
	"github.com/armorclaw/iobridge/internal/janitor"
	"github.com/armorclaw/iobridge/internal/logging"
	"github.com/armorclaw/iobridge/internal/mapping"
	"github.com/armorclaw/iobridge/internal/model"
	"github.com/armorclaw/iobridge/internal/mqttegress"
	"github.com/armorclaw/iobridge/internal/opcuaegress"
	"github.com/armorclaw/iobridge/internal/sapegress"
	"github.com/armorclaw/iobridge/internal/store"
)

// Exit codes. A StoreUnavailable condition that persists past its 30s
// escalation window (spec.md §7) gets its own code so an operator's
// process supervisor can distinguish "disk/store trouble" from a plain
// startup/config mistake.
const (
	exitUsageOrConfigError = 1
	exitStoreUnavailable   = 2
)

// storeOpenRetryWindow bounds how long main retries a StoreUnavailable
// store.Open failure before giving up (spec.md §7: "retries with
// exponential backoff up to 30s, then exits with code 2").
const storeOpenRetryWindow = 30 * time.Second

type cliConfig struct {
	configPath string
}

func parseFlags() cliConfig {
	var cfg cliConfig
	flag.StringVar(&cfg.configPath, "config", "", "path to config.yaml (searches default locations if empty)")
	flag.Parse()
	return cfg
}

func main() {
	os.Exit(run())
}

// run wires up the bridge and blocks until shutdown, returning the process
// exit code. It is split out from main so that deferred cleanup (store
// close, janitor stop, HTTP shutdown) always executes before the process
// exits, even on the StoreUnavailable escalation path (spec.md §7).
func run() int {
	cli := parseFlags()

	cfg, err := buffercfg.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iobridge: load config: %v\n", err)
		return exitUsageOrConfigError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "iobridge: invalid config: %v\n", err)
		return exitUsageOrConfigError
	}

	if err := logging.Initialize(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		fmt.Fprintf(os.Stderr, "iobridge: initialize logger: %v\n", err)
		return exitUsageOrConfigError
	}
	log := logging.Global()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()

	st, err := openStoreWithRetry(ctx, store.Config{DBPath: cfg.Buffer.DBPath}, registry, log)
	if err != nil {
		be, _ := bridgeerr.As(err)
		if be != nil && be.Kind == bridgeerr.KindStoreUnavail {
			log.Error("open store: retries exhausted", "error", err)
			return exitStoreUnavailable
		}
		log.Error("open store", "error", err)
		return exitUsageOrConfigError
	}
	defer st.Close()

	mapper := buildMappingTable(cfg)

	buf := buffer.New(st, mapper, buffer.Config{
		MaxSize:        cfg.Buffer.MaxSize,
		DefaultTTL:     cfg.MessageTTL(),
		BaseBackoff:    time.Duration(cfg.Buffer.BaseBackoffS * float64(time.Second)),
		MaxBackoff:     time.Duration(cfg.Buffer.MaxBackoffS * float64(time.Second)),
		DefaultRetries: cfg.Buffer.MaxRetries,
	}, log)

	egress := buildEgressAdapters(cfg)

	disp := dispatcher.New(buf, egress, dispatcher.Config{
		WorkerCount:        cfg.Buffer.WorkerThreads,
		BatchSize:          cfg.Buffer.BatchSize,
		ClaimRatePerSecond: cfg.Buffer.ClaimRatePerSecond,
		LeaseDuration:      cfg.LeaseDuration(),
		PerMessageTimeout:  cfg.PerMessageTimeout(),
	}, log)

	jan := janitor.New(buf, janitor.Config{
		ReclaimStuckSchedule:  "@every 30s",
		ExpireDueSchedule:     "@every 1m",
		CleanupSchedule:       fmt.Sprintf("@every %ds", cfg.Buffer.CleanupIntervalS),
		SnapshotStatsSchedule: "@every 1m",
		Retention:             cfg.Retention(),
	}, log)
	if err := jan.Start(ctx); err != nil {
		log.Error("start janitor", "error", err)
		return exitUsageOrConfigError
	}
	defer jan.Stop()

	var httpSrv *http.Server
	if cfg.HTTP.Enabled {
		api := httpapi.New(buf, registry, log)
		go api.Run(ctx, time.Minute)
		httpSrv = &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: api.Handler(cfg.HTTP.WebSocketPath)}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server failed", "error", err)
			}
		}()
	}

	log.Info("bridge started", "db_path", cfg.Buffer.DBPath, "worker_threads", cfg.Buffer.WorkerThreads)

	errCh := make(chan error, 1)
	go func() { errCh <- disp.Run(ctx) }()

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("dispatcher exited", "error", err)
			be, _ := bridgeerr.As(err)
			if be != nil && be.Fatal() {
				code = exitStoreUnavailable
			}
		}
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}
	log.Info("bridge stopped")
	return code
}

// openStoreWithRetry retries a StoreUnavailable store.Open failure with
// exponential backoff (50ms doubling, capped at 5s between attempts) for up
// to storeOpenRetryWindow of total elapsed time before giving up (spec.md
// §7). A non-retryable failure (e.g. Configuration, such as the lockfile
// already being held) returns immediately without retrying.
func openStoreWithRetry(ctx context.Context, cfg store.Config, registry *prometheus.Registry, log *logging.Logger) (*store.Store, error) {
	const (
		initialBackoff = 50 * time.Millisecond
		maxBackoff     = 5 * time.Second
	)
	deadline := time.Now().Add(storeOpenRetryWindow)
	backoff := initialBackoff

	for attempt := 0; ; attempt++ {
		st, err := store.Open(ctx, cfg, registry)
		if err == nil {
			return st, nil
		}

		be, _ := bridgeerr.As(err)
		if be == nil || be.Kind != bridgeerr.KindStoreUnavail {
			return nil, err
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return nil, bridgeerr.StoreUnavailableExhausted(
				fmt.Sprintf("store unavailable after retrying for %s", storeOpenRetryWindow), err)
		}

		log.Error("open store: retrying", "error", err, "attempt", attempt, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func buildMappingTable(cfg *buffercfg.Config) *mapping.Table {
	entries := make([]mapping.Entry, 0, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		entries = append(entries, mapping.Entry{
			MQTTTopic:  m.MQTTTopic,
			OPCUANode:  m.OPCUANode,
			DataType:   model.DataType(m.DataType),
			Direction:  mapping.Direction(m.Direction),
			Priority:   parsePriority(m.Priority),
			MaxRetries: m.MaxRetries,
			Coalesce:   m.Coalesce,
		})
	}
	return mapping.New(entries)
}

func parsePriority(s string) model.Priority {
	switch s {
	case "critical":
		return model.PriorityCritical
	case "high":
		return model.PriorityHigh
	case "low":
		return model.PriorityLow
	default:
		return model.PriorityNormal
	}
}

// unconfiguredPublisher and unconfiguredWriter satisfy the egress
// transport interfaces until a real MQTT/OPC-UA client library is wired
// in; they keep the dispatcher's retry path exercised (Retryable) rather
// than panicking when no transport plugin has been provided.
type unconfiguredPublisher struct{}

func (unconfiguredPublisher) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	return fmt.Errorf("no mqtt transport configured for topic %s", topic)
}

type unconfiguredWriter struct{}

func (unconfiguredWriter) WriteNode(ctx context.Context, nodeID string, value string, dataType model.DataType) error {
	return fmt.Errorf("no opcua transport configured for node %s", nodeID)
}

func buildEgressAdapters(cfg *buffercfg.Config) map[model.Endpoint]adapter.Egress {
	egress := make(map[model.Endpoint]adapter.Egress)

	egress[model.EndpointMQTT] = mqttegress.New(unconfiguredPublisher{}, byte(cfg.MQTT.QoS))
	egress[model.EndpointOPCUA] = opcuaegress.New(unconfiguredWriter{})

	if cfg.SAP.Enabled {
		sap := sapegress.New(sapegress.Config{
			BaseURL:      cfg.SAP.BaseURL,
			TokenURL:     cfg.SAP.TokenURL,
			ClientID:     cfg.SAP.ClientID,
			ClientSecret: cfg.SAP.ClientSecret,
			Scope:        cfg.SAP.Scope,
		})
		egress[model.EndpointSAP] = sap
	}

	return egress
}

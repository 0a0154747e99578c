// Package buffercfg loads and validates the bridge's YAML configuration.
package buffercfg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownKey    = errors.New("unknown configuration key")
)

// SupportedSchemaMin and SupportedSchemaMax bound the schema_version field
// this build understands.
const (
	SupportedSchemaMin = 1
	SupportedSchemaMax = 1
)

// Config holds the full bridge configuration (spec.md §6.1).
type Config struct {
	SchemaVersion int            `yaml:"schema_version"`
	MQTT          MQTTConfig     `yaml:"mqtt"`
	OPCUA         OPCUAConfig    `yaml:"opcua"`
	Buffer        BufferConfig   `yaml:"buffer"`
	Mappings      []MappingEntry `yaml:"mappings"`
	Logging       LoggingConfig  `yaml:"logging"`
	Metrics       MetricsConfig  `yaml:"metrics"`
	HTTP          HTTPConfig     `yaml:"http"`
	SAP           SAPConfig      `yaml:"sap"`
}

// MQTTConfig configures the (external) MQTT transport.
type MQTTConfig struct {
	BrokerHost    string `yaml:"broker_host"`
	BrokerPort    int    `yaml:"broker_port"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
	QoS           int    `yaml:"qos"`
	TLSEnabled    bool   `yaml:"tls_enabled,omitempty"`
	CACert        string `yaml:"ca_cert,omitempty"`
	ClientCert    string `yaml:"client_cert,omitempty"`
	ClientKey     string `yaml:"client_key,omitempty"`
}

// OPCUAConfig configures the (external) OPC-UA server.
type OPCUAConfig struct {
	Endpoint        string `yaml:"endpoint"`
	ServerName      string `yaml:"server_name"`
	Namespace       int    `yaml:"namespace"`
	SecurityPolicy  string `yaml:"security_policy"`
	Certificate     string `yaml:"certificate,omitempty"`
	PrivateKey      string `yaml:"private_key,omitempty"`
	AllowAnonymous  bool   `yaml:"allow_anonymous"`
}

// BufferConfig holds the core tuning knobs for Store/Buffer/Dispatcher/Janitor.
type BufferConfig struct {
	DBPath               string  `yaml:"db_path"`
	MaxSize              int     `yaml:"max_size"`
	WorkerThreads        int     `yaml:"worker_threads"`
	LeaseDurationS       int     `yaml:"lease_duration_s"`
	PerMessageTimeoutS   int     `yaml:"per_message_timeout_s"`
	CleanupIntervalS     int     `yaml:"cleanup_interval_s"`
	RetentionDays        int     `yaml:"retention_days"`
	MessageTTLMinutes    float64 `yaml:"message_ttl_minutes"`
	BaseBackoffS         float64 `yaml:"base_backoff_s"`
	MaxBackoffS          float64 `yaml:"max_backoff_s"`
	MaxRetries           int     `yaml:"max_retries"`
	BatchSize            int     `yaml:"batch_size"`
	ClaimRatePerSecond   float64 `yaml:"claim_rate_per_second"`
}

// MappingEntry is one routing rule from the config's mappings[] list.
type MappingEntry struct {
	MQTTTopic  string `yaml:"mqtt_topic"`
	OPCUANode  string `yaml:"opcua_node_id"`
	DataType   string `yaml:"data_type"`
	Direction  string `yaml:"direction"`
	Priority   string `yaml:"priority,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
	Coalesce   bool   `yaml:"coalesce,omitempty"`
}

// LoggingConfig configures the ambient structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig holds the metrics.* keys. cmd/bridge does not read them:
// /metrics is served by the HTTP surface whenever http.enabled is set.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// HTTPConfig configures the optional health/metrics/websocket HTTP surface.
type HTTPConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddr    string `yaml:"listen_addr"`
	WebSocketPath string `yaml:"websocket_path"`
}

// SAPConfig configures the optional SAP HTTP connector egress adapter.
type SAPConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		SchemaVersion: 1,
		MQTT: MQTTConfig{
			BrokerHost: "localhost",
			BrokerPort: 1883,
			ClientID:   "iobridge",
			QoS:        1,
		},
		OPCUA: OPCUAConfig{
			Endpoint:       "opc.tcp://localhost:4840",
			ServerName:     "iobridge",
			Namespace:      2,
			SecurityPolicy: "None",
			AllowAnonymous: true,
		},
		Buffer: BufferConfig{
			DBPath:             "buffer.db",
			MaxSize:            10000,
			WorkerThreads:      2,
			LeaseDurationS:     60,
			PerMessageTimeoutS: 10,
			CleanupIntervalS:   60,
			RetentionDays:      7,
			MessageTTLMinutes:  60,
			BaseBackoffS:       1,
			MaxBackoffS:        300,
			MaxRetries:         5,
			BatchSize:          16,
			ClaimRatePerSecond: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
		HTTP: HTTPConfig{
			Enabled:       false,
			ListenAddr:    ":8088",
			WebSocketPath: "/ws",
		},
	}
}

// ConfigPaths returns the default configuration file search locations.
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".iobridge", "config.yaml"),
		filepath.Join("/etc", "iobridge", "config.yaml"),
		"./config.yaml",
	}
}

// Validate checks structural invariants the loader cannot express in the
// struct tags alone.
func (c *Config) Validate() error {
	if c.SchemaVersion < SupportedSchemaMin || c.SchemaVersion > SupportedSchemaMax {
		return fmt.Errorf("%w: schema_version %d not in supported range [%d,%d]",
			ErrInvalidConfig, c.SchemaVersion, SupportedSchemaMin, SupportedSchemaMax)
	}

	if c.Buffer.DBPath == "" {
		return fmt.Errorf("%w: buffer.db_path is required", ErrInvalidConfig)
	}
	if dir := filepath.Dir(c.Buffer.DBPath); dir != "." {
		if err := validateDirectoryWritable(dir); err != nil {
			return fmt.Errorf("%w: buffer db directory %s: %w", ErrInvalidConfig, dir, err)
		}
	}

	if c.Buffer.MaxSize <= 0 {
		return fmt.Errorf("%w: buffer.max_size must be positive", ErrInvalidConfig)
	}
	if c.Buffer.WorkerThreads <= 0 {
		return fmt.Errorf("%w: buffer.worker_threads must be positive", ErrInvalidConfig)
	}
	if c.Buffer.MaxRetries < 0 {
		return fmt.Errorf("%w: buffer.max_retries cannot be negative", ErrInvalidConfig)
	}
	if c.Buffer.BaseBackoffS <= 0 || c.Buffer.MaxBackoffS < c.Buffer.BaseBackoffS {
		return fmt.Errorf("%w: buffer.base_backoff_s must be positive and <= max_backoff_s", ErrInvalidConfig)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of debug, info, warn, error", ErrInvalidConfig)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of json, text", ErrInvalidConfig)
	}

	for i, m := range c.Mappings {
		if m.MQTTTopic == "" && m.OPCUANode == "" {
			return fmt.Errorf("%w: mappings[%d] needs mqtt_topic or opcua_node_id", ErrInvalidConfig, i)
		}
		switch m.Direction {
		case "mqtt_to_opcua", "opcua_to_mqtt", "bidirectional":
		default:
			return fmt.Errorf("%w: mappings[%d].direction %q is not recognized", ErrInvalidConfig, i, m.Direction)
		}
	}

	if c.SAP.Enabled && (c.SAP.BaseURL == "" || c.SAP.TokenURL == "") {
		return fmt.Errorf("%w: sap.base_url and sap.token_url are required when sap.enabled", ErrInvalidConfig)
	}

	return nil
}

// LeaseDuration returns the configured worker lease as a Duration.
func (c *Config) LeaseDuration() time.Duration {
	return time.Duration(c.Buffer.LeaseDurationS) * time.Second
}

// PerMessageTimeout returns the configured egress timeout as a Duration.
func (c *Config) PerMessageTimeout() time.Duration {
	return time.Duration(c.Buffer.PerMessageTimeoutS) * time.Second
}

// CleanupInterval returns the configured janitor cadence as a Duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Buffer.CleanupIntervalS) * time.Second
}

// MessageTTL returns the configured default message TTL as a Duration.
func (c *Config) MessageTTL() time.Duration {
	return time.Duration(c.Buffer.MessageTTLMinutes * float64(time.Minute))
}

// Retention returns the configured completed-row retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Buffer.RetentionDays) * 24 * time.Hour
}

func validateDirectoryWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("cannot create directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to directory: %w", err)
	}
	f.Close()
	os.Remove(testFile)
	return nil
}

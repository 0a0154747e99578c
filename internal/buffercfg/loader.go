package buffercfg

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads and validates configuration from path. An empty path searches
// ConfigPaths() in order; if none exist, DefaultConfig() is used, with the
// IOBRIDGE_ environment overrides applied and validated like a loaded file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		log.Printf("no configuration file found, checked: %v", ConfigPaths())
		log.Printf("using default configuration")
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDie loads configuration or exits the process with a ConfigurationError.
func LoadOrDie(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// applyEnvOverrides lets an operator override a handful of hot-path settings
// without editing the YAML file, mirroring the teacher's ARMORCLAW_ prefix
// convention with an IOBRIDGE_ prefix.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IOBRIDGE_DB_PATH"); v != "" {
		cfg.Buffer.DBPath = v
	}
	if v := os.Getenv("IOBRIDGE_WORKER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Buffer.WorkerThreads = n
		}
	}
	if v := os.Getenv("IOBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("IOBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("IOBRIDGE_MQTT_BROKER_HOST"); v != "" {
		cfg.MQTT.BrokerHost = v
	}
	if v := os.Getenv("IOBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("IOBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("IOBRIDGE_OPCUA_ENDPOINT"); v != "" {
		cfg.OPCUA.Endpoint = v
	}
	if v := os.Getenv("IOBRIDGE_SAP_CLIENT_SECRET"); v != "" {
		cfg.SAP.ClientSecret = v
	}
}

// Save writes cfg to path as YAML, validating first.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// GenerateExampleConfig writes a populated example configuration to path.
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()
	cfg.Mappings = []MappingEntry{
		{
			MQTTTopic: "sensores/temperatura/sala",
			OPCUANode: "ns=2;s=Temperature.Room",
			DataType:  "Float",
			Direction: "mqtt_to_opcua",
			Priority:  "normal",
		},
	}
	return Save(cfg, path)
}

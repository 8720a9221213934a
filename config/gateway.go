package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// KafkaProducerConfig defines configuration for Kafka producer
type KafkaProducerConfig struct {
	Brokers      []string `yaml:"brokers"`
	TriggerTopic string   `yaml:"trigger_topic"` // Batch trigger events
	OutcomeTopic string   `yaml:"outcome_topic"` // Pipeline outcome events

	// Batch processing settings
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// Reliability settings
	RequiredAcks string `yaml:"required_acks"`
	Async        bool   `yaml:"async"`

	// Performance settings
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// HttpServerConfig defines HTTP server configuration
type HttpServerConfig struct {
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// GatewayMonitoringConfig defines monitoring configuration for the gateway
type GatewayMonitoringConfig struct {
	HealthCheckPath string `yaml:"health_check_path"`
}

// GatewayConfig defines all configurations required for the trigger gateway
type GatewayConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`

	// Ledger client configuration path, for the read-only history endpoint
	LedgerClientConfigPath string `yaml:"ledger_client_config_path"`

	Database      DatabaseConfig          `yaml:"database"`       // Use unified DatabaseConfig
	KafkaProducer KafkaProducerConfig     `yaml:"kafka_producer"` // Trigger event producer config
	Policy        CompletionPolicy        `yaml:"policy"`         // Completion gate policy
	HttpServer    HttpServerConfig        `yaml:"http_server"`
	Monitoring    GatewayMonitoringConfig `yaml:"monitoring"`
}

// LoadGatewayConfig loads gateway configuration from the specified YAML file path
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config file '%s': %w", path, err)
	}

	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse gateway YAML config file: %w", err)
	}

	// Set defaults
	cfg.Database.SetDefaults()
	cfg.Policy.SetDefaults()

	// Validation
	if cfg.HttpListenAddr == "" {
		return nil, fmt.Errorf("configuration error: http_listen_addr must be configured")
	}
	if cfg.LedgerClientConfigPath == "" {
		return nil, fmt.Errorf("configuration error: ledger_client_config_path must be configured")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration error: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy configuration error: %w", err)
	}

	return &cfg, nil
}

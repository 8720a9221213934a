package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// KafkaConsumerConfig defines configuration for Kafka consumer
type KafkaConsumerConfig struct {
	Brokers           []string `yaml:"brokers"`            // e.g., ["kafka1:9092", "kafka2:9092"]
	Topic             string   `yaml:"topic"`              // Topic to consume trigger events from
	GroupID           string   `yaml:"group_id"`           // Consumer group ID
	Count             int      `yaml:"count"`              // Number of consumers to create
	SessionTimeout    string   `yaml:"session_timeout"`    // Kafka session timeout
	HeartbeatInterval string   `yaml:"heartbeat_interval"` // Kafka heartbeat interval
	AutoOffsetReset   string   `yaml:"auto_offset_reset"`  // earliest/latest
}

// SetDefaults sets reasonable default values for Kafka consumer configuration
func (c *KafkaConsumerConfig) SetDefaults() {
	if c.Count <= 0 {
		c.Count = 1
		fmt.Printf("Warning: kafka_consumer.count not set or invalid, defaulting to %d\n", c.Count)
	}
	if c.SessionTimeout == "" {
		c.SessionTimeout = "30s"
		fmt.Printf("Warning: kafka_consumer.session_timeout not set, defaulting to %s\n", c.SessionTimeout)
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = "3s"
		fmt.Printf("Warning: kafka_consumer.heartbeat_interval not set, defaulting to %s\n", c.HeartbeatInterval)
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "earliest"
		fmt.Printf("Warning: kafka_consumer.auto_offset_reset not set, defaulting to %s\n", c.AutoOffsetReset)
	}
}

// WorkerConfig defines configuration for the submission worker pool
type WorkerConfig struct {
	Concurrency        int    `yaml:"concurrency"`          // Number of concurrent workers per consumer
	ConsumerRetryDelay string `yaml:"consumer_retry_delay"` // Delay when consumer encounters errors
	LedgerTimeout      string `yaml:"ledger_timeout"`       // Timeout per ledger operation
	SubmitStaleAfter   string `yaml:"submit_stale_after"`   // Age after which a SUBMITTING guard may be taken over
}

// SetDefaults sets reasonable default values for worker configuration
func (c *WorkerConfig) SetDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
		fmt.Printf("Warning: worker.concurrency not set or invalid, defaulting to %d\n", c.Concurrency)
	}
	if c.ConsumerRetryDelay == "" {
		c.ConsumerRetryDelay = "5s"
		fmt.Printf("Warning: worker.consumer_retry_delay not set, defaulting to %s\n", c.ConsumerRetryDelay)
	}
	if c.LedgerTimeout == "" {
		c.LedgerTimeout = "15s"
		fmt.Printf("Warning: worker.ledger_timeout not set, defaulting to %s\n", c.LedgerTimeout)
	}
	if c.SubmitStaleAfter == "" {
		c.SubmitStaleAfter = "10m"
		fmt.Printf("Warning: worker.submit_stale_after not set, defaulting to %s\n", c.SubmitStaleAfter)
	}
}

// IdentityConfig defines how the engine reaches the credential authority and
// which administrative identity it provisions farmers with.
type IdentityConfig struct {
	AuthorityURL     string `yaml:"authority_url"`      // Credential authority base URL
	AdminPrincipalID string `yaml:"admin_principal_id"` // Principal id of the administrative identity
	MSPID            string `yaml:"msp_id"`             // Organization MSP id stamped on credentials
	Affiliation      string `yaml:"affiliation"`        // CA affiliation for registered principals
	TimeoutSeconds   int    `yaml:"timeout_seconds"`    // Timeout per authority call
	TLSSkipVerify    bool   `yaml:"tls_skip_verify"`    // Test networks only
}

// SetDefaults sets reasonable default values for identity configuration
func (c *IdentityConfig) SetDefaults() {
	if c.AdminPrincipalID == "" {
		c.AdminPrincipalID = "admin"
		fmt.Printf("Warning: identity.admin_principal_id not set, defaulting to %s\n", c.AdminPrincipalID)
	}
	if c.Affiliation == "" {
		c.Affiliation = "org1.department1"
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate validates the identity configuration
func (c *IdentityConfig) Validate() error {
	if c.AuthorityURL == "" {
		return fmt.Errorf("identity authority_url is required")
	}
	if c.MSPID == "" {
		return fmt.Errorf("identity msp_id is required")
	}
	return nil
}

// CertificateConfig defines certificate issuance configuration
type CertificateConfig struct {
	VerifyBaseURL string `yaml:"verify_base_url"` // Base URL the QR verification link is built from
}

// SetDefaults sets reasonable default values for certificate configuration
func (c *CertificateConfig) SetDefaults() {
	if c.VerifyBaseURL == "" {
		c.VerifyBaseURL = "https://graintrust-verify.vercel.app"
		fmt.Printf("Warning: certificate.verify_base_url not set, defaulting to %s\n", c.VerifyBaseURL)
	}
}

// EngineMonitoringConfig defines monitoring configuration for the engine
type EngineMonitoringConfig struct {
	HealthCheckPath string `yaml:"health_check_path"` // Health check endpoint path
	LogLevel        string `yaml:"log_level"`         // Logging level
}

// SetDefaults sets reasonable default values for monitoring configuration
func (c *EngineMonitoringConfig) SetDefaults() {
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// EngineConfig defines all configuration for the Submission Engine
type EngineConfig struct {
	// Database Configuration - using unified DatabaseConfig
	Database DatabaseConfig `yaml:"database"`

	// Kafka Consumer Configuration
	KafkaConsumer KafkaConsumerConfig `yaml:"kafka_consumer"`

	// Kafka Producer Configuration (outcome events)
	KafkaProducer KafkaProducerConfig `yaml:"kafka_producer"`

	// Worker Configuration
	Worker WorkerConfig `yaml:"worker"`

	// Completion policy (business rules)
	Policy CompletionPolicy `yaml:"policy"`

	// Identity provisioning configuration
	Identity IdentityConfig `yaml:"identity"`

	// Certificate issuance configuration
	Certificate CertificateConfig `yaml:"certificate"`

	// Monitoring Configuration
	Monitoring EngineMonitoringConfig `yaml:"monitoring"`

	// Ledger Client Configuration
	LedgerClientConfigPath string `yaml:"ledger_client_config_path"`
}

// LoadEngineConfig loads configuration from the specified YAML file path
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg EngineConfig
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}

	// Set default values for all configurations
	cfg.Database.SetDefaults()
	cfg.KafkaConsumer.SetDefaults()
	cfg.Worker.SetDefaults()
	cfg.Policy.SetDefaults()
	cfg.Identity.SetDefaults()
	cfg.Certificate.SetDefaults()
	cfg.Monitoring.SetDefaults()

	// Validate configuration
	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration error: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("policy configuration error: %w", err)
	}
	if err := cfg.Identity.Validate(); err != nil {
		return nil, fmt.Errorf("identity configuration error: %w", err)
	}

	return &cfg, nil
}

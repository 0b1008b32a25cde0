package dto

import (
	"fmt"
	"time"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application    ApplicationInfo      `mapstructure:"application"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	SchemaRegistry SchemaRegistryConfig `mapstructure:"schema_registry"`
	Window         WindowConfig         `mapstructure:"window"`
	Sink           SinkConfig           `mapstructure:"sink"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
	Shutdown       ShutdownConfig       `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	Consumer         ConsumerConfig `mapstructure:"consumer"`
	LateOutput       LateConfig     `mapstructure:"late_output"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	ChannelBufferSize   int      `mapstructure:"channel_buffer_size"`
}

// LateConfig configures the explicit late output topic used when the late
// policy is "route".
type LateConfig struct {
	TopicSuffix string `mapstructure:"topic_suffix"`
}

// SchemaRegistryConfig contains schema registry client configuration
type SchemaRegistryConfig struct {
	URL       string `mapstructure:"url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// WindowConfig contains fixed-window assignment configuration
type WindowConfig struct {
	SizeSeconds       int    `mapstructure:"size_seconds"`
	AllowedLatenessMS int    `mapstructure:"allowed_lateness_ms"`
	LatePolicy        string `mapstructure:"late_policy"`  // drop | route
	DrainPolicy       string `mapstructure:"drain_policy"` // flush | discard
}

// Size returns the window size as a duration.
func (c WindowConfig) Size() time.Duration {
	return time.Duration(c.SizeSeconds) * time.Second
}

// AllowedLateness returns the allowed lateness as a duration.
func (c WindowConfig) AllowedLateness() time.Duration {
	return time.Duration(c.AllowedLatenessMS) * time.Millisecond
}

// SinkConfig contains destination configuration. When OutputPath is set the
// pipeline writes windowed files there instead of the warehouse table.
type SinkConfig struct {
	OutputPath string         `mapstructure:"output_path"`
	BigQuery   BigQueryConfig `mapstructure:"bigquery"`
	File       FileSinkConfig `mapstructure:"file"`
}

// BigQueryConfig contains warehouse table configuration
type BigQueryConfig struct {
	Project         string `mapstructure:"project"`
	Dataset         string `mapstructure:"dataset"`
	Table           string `mapstructure:"table"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Endpoint        string `mapstructure:"endpoint"`
}

// FileSinkConfig contains windowed file output configuration
type FileSinkConfig struct {
	Format string `mapstructure:"format"` // pretty | parquet
	Shards int    `mapstructure:"shards"`
}

// RetryConfig contains retry settings for transient I/O failures
type RetryConfig struct {
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialBackoffMS  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// GracePeriod returns the shutdown grace period as a duration.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// FileSinkSelected reports whether the windowed file destination is active.
// The destination choice is made once, here, at configuration time.
func (c *SinkConfig) FileSinkSelected() bool {
	return c.OutputPath != ""
}

// Validate validates BigQuery configuration.
func (c *BigQueryConfig) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("bigquery project is required")
	}
	if c.Dataset == "" {
		return fmt.Errorf("bigquery dataset is required")
	}
	if c.Table == "" {
		return fmt.Errorf("bigquery table is required")
	}
	return nil
}

// Validate validates file sink configuration.
func (c *FileSinkConfig) Validate() error {
	if c.Format != "pretty" && c.Format != "parquet" {
		return fmt.Errorf("unsupported file sink format: %s", c.Format)
	}
	if c.Shards < 1 {
		return fmt.Errorf("file sink shards must be at least 1")
	}
	return nil
}

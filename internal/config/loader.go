package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jittakal/kafwarehouse/internal/config/dto"
	"github.com/spf13/viper"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	// Set defaults
	l.setDefaults()

	// Load from file if provided
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand environment variables in config values
	// Only expand if the value contains ${...} pattern
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	// Unmarshal configuration
	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "kafwarehouse")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Kafka defaults
	l.v.SetDefault("kafka.bootstrap_servers", []string{"localhost:9092"})
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.consumer.group_id", "kafwarehouse")
	l.v.SetDefault("kafka.consumer.topics", []string{"dbserver1.inventory.customers"})
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.channel_buffer_size", 256)
	l.v.SetDefault("kafka.late_output.topic_suffix", "-late")

	// Schema registry defaults
	l.v.SetDefault("schema_registry.url", "http://localhost:8081")
	l.v.SetDefault("schema_registry.timeout_ms", 10000)

	// Window defaults
	l.v.SetDefault("window.size_seconds", 2)
	l.v.SetDefault("window.allowed_lateness_ms", 0)
	l.v.SetDefault("window.late_policy", "drop")
	l.v.SetDefault("window.drain_policy", "flush")

	// Sink defaults: warehouse table unless sink.output_path is set
	l.v.SetDefault("sink.output_path", "")
	l.v.SetDefault("sink.file.format", "pretty")
	l.v.SetDefault("sink.file.shards", 1)

	// Retry defaults
	l.v.SetDefault("retry.max_attempts", 5)
	l.v.SetDefault("retry.initial_backoff_ms", 100)
	l.v.SetDefault("retry.max_backoff_ms", 30000)
	l.v.SetDefault("retry.backoff_multiplier", 2.0)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	// Kafka validation
	if len(config.Kafka.BootstrapServers) == 0 {
		return errors.New("kafka.bootstrap_servers is required")
	}
	if len(config.Kafka.Consumer.Topics) == 0 {
		return errors.New("kafka.consumer.topics is required")
	}
	if config.Kafka.Consumer.GroupID == "" {
		return errors.New("kafka.consumer.group_id is required")
	}
	if reset := config.Kafka.Consumer.AutoOffsetReset; reset != "earliest" && reset != "latest" {
		return fmt.Errorf("unsupported offset reset policy: %s", reset)
	}

	// Schema registry validation
	if config.SchemaRegistry.URL == "" {
		return errors.New("schema_registry.url is required")
	}

	// Window validation
	if config.Window.SizeSeconds <= 0 {
		return errors.New("window.size_seconds must be positive")
	}
	if config.Window.AllowedLatenessMS < 0 {
		return errors.New("window.allowed_lateness_ms must not be negative")
	}
	if policy := config.Window.LatePolicy; policy != "drop" && policy != "route" {
		return fmt.Errorf("unsupported late policy: %s", policy)
	}
	if policy := config.Window.DrainPolicy; policy != "flush" && policy != "discard" {
		return fmt.Errorf("unsupported drain policy: %s", policy)
	}

	// Sink validation: the destination variant is resolved here, once
	if config.Sink.FileSinkSelected() {
		if err := config.Sink.File.Validate(); err != nil {
			return err
		}
	} else {
		if err := config.Sink.BigQuery.Validate(); err != nil {
			return err
		}
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}

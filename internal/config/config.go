// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	KeyPool   KeyPoolConfig   `yaml:"key_pool"`
	SyncChat  SyncChatConfig  `yaml:"sync_chat"`
	Worker    WorkerConfig    `yaml:"worker"`
	Queue     QueueConfig     `yaml:"queue"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Providers []ProviderEntry `yaml:"providers"`
	Keys      []KeyEntry      `yaml:"keys"`
	HTTPProxy string          `yaml:"http_proxy"`
	HTTPSProxy string         `yaml:"https_proxy"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// KeyPoolConfig holds the key-selection/cooldown/decay settings, per spec §6.
type KeyPoolConfig struct {
	RPMWindowSeconds           int `yaml:"key_rpm_window_seconds"`
	CooldownSecondsOn429       int `yaml:"key_cooldown_seconds_on_429"`
	CooldownSecondsOnTransient int `yaml:"key_cooldown_seconds_on_network_error"`
	ErrorDecayMinutes          int `yaml:"key_error_decay_minutes"`
	ListCacheSeconds           int `yaml:"key_list_cache_seconds"`
}

// SyncChatConfig holds the §4.3 sync chat path's in-request retry budget.
type SyncChatConfig struct {
	MaxRetries             int `yaml:"sync_llm_max_retries"`
	DefaultMaxTokens       int `yaml:"default_max_tokens"`
	ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds"`
}

// WorkerConfig holds the §4.4 async run engine's outer retry/backoff budget.
type WorkerConfig struct {
	MaxAttempts            int `yaml:"worker_max_attempts"`
	BaseBackoffSeconds     int `yaml:"worker_base_backoff_seconds"`
	MaxBackoffSeconds      int `yaml:"worker_max_backoff_seconds"`
}

// QueueConfig holds the Kafka topic backing the durable run-job queue.
type QueueConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds the single bearer token guarding the admin surface.
// There is no multi-user/JWT model: the gateway has one operator identity.
type AuthConfig struct {
	AdminToken string `yaml:"admin_token"`
}

// ProviderEntry is a provider definition in the config file.
type ProviderEntry struct {
	Name           string `yaml:"name"`
	Type           string `yaml:"type"`
	BaseURL        string `yaml:"base_url"`
	DefaultModel   string `yaml:"default_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Enabled        *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the provider is enabled (defaults to true when nil).
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ResolvedType returns Type if set, otherwise falls back to Name.
func (p ProviderEntry) ResolvedType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

// KeyEntry seeds one provider credential into the key pool on first run.
type KeyEntry struct {
	Provider    string `yaml:"provider"`
	DisplayName string `yaml:"display_name"`
	APIKey      string `yaml:"api_key"`
	Environment string `yaml:"environment"`
	MaxRPM      *int   `yaml:"max_rpm"`
	MaxTPM      *int   `yaml:"max_tpm"`
	Priority    int    `yaml:"priority"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "gateway.db",
		},
		KeyPool: KeyPoolConfig{
			RPMWindowSeconds:           60,
			CooldownSecondsOn429:       30,
			CooldownSecondsOnTransient: 15,
			ErrorDecayMinutes:          10,
			ListCacheSeconds:           2,
		},
		SyncChat: SyncChatConfig{
			MaxRetries:             2,
			DefaultMaxTokens:       1024,
			ProviderTimeoutSeconds: 1800,
		},
		Worker: WorkerConfig{
			MaxAttempts:        5,
			BaseBackoffSeconds: 5,
			MaxBackoffSeconds:  60,
		},
		Queue: QueueConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "process_run_job",
			ConsumerGroup: "gateway-run-workers",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

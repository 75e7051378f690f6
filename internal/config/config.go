// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  []ProviderConfig `yaml:"providers"`
	Selection  SelectionConfig  `yaml:"selection"`
	Budget     BudgetConfig     `yaml:"budget"`
	Validation ValidationConfig `yaml:"validation"`
	Retry      RetryConfig      `yaml:"retry"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Storage    StorageConfig    `yaml:"storage"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ProviderConfig defines a single image-generation provider.
type ProviderConfig struct {
	Name          string            `yaml:"name"`
	Type          string            `yaml:"type"`
	APIKey        string            `yaml:"api_key"`
	APISecret     string            `yaml:"api_secret"`
	BaseURL       string            `yaml:"base_url"`
	Model         string            `yaml:"model"`
	Deployment    string            `yaml:"deployment"`
	CostPerImage  string            `yaml:"cost_per_image"` // decimal string, e.g. "0.040"
	QualityScore  float64           `yaml:"quality_score"`  // static, [0,100]
	SLAPercent    float64           `yaml:"sla_percent"`
	CommercialUse bool              `yaml:"commercial_use"`
	MaxResolution int               `yaml:"max_resolution"`
	Enabled       *bool             `yaml:"enabled"` // nil means enabled
	MaxRPM        int               `yaml:"max_rpm"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
}

// IsEnabled reports whether the provider participates in selection.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// WeightsConfig is one set of selection sub-score weights.
type WeightsConfig struct {
	Cost        float64 `yaml:"cost"`
	Quality     float64 `yaml:"quality"`
	Reliability float64 `yaml:"reliability"`
	Speed       float64 `yaml:"speed"`
}

// SelectionConfig tunes provider ranking.
type SelectionConfig struct {
	Weights WeightsConfig `yaml:"weights"`

	// DepartmentWeights overrides the default weights per department.
	DepartmentWeights map[string]WeightsConfig `yaml:"department_weights"`
}

// DepartmentBudget provisions one department's monthly allowance.
type DepartmentBudget struct {
	Limit                 string `yaml:"limit"` // decimal string
	Mode                  string `yaml:"mode"`  // hard, soft, warn
	AlertThresholdPercent int    `yaml:"alert_threshold_percent"`
}

// BudgetConfig selects the ledger backend and provisions departments.
type BudgetConfig struct {
	Backend     string                      `yaml:"backend"` // memory, redis
	RedisAddr   string                      `yaml:"redis_addr"`
	Currency    string                      `yaml:"currency"`
	Departments map[string]DepartmentBudget `yaml:"departments"`
}

// ValidationConfig tunes the prompt validator.
type ValidationConfig struct {
	PIIAction       string `yaml:"pii_action"`   // block, warn, anonymize
	FailureMode     string `yaml:"failure_mode"` // strict, lenient
	MinPromptLength int    `yaml:"min_prompt_length"`
	MaxPromptLength int    `yaml:"max_prompt_length"`
	MaxImageCount   int    `yaml:"max_image_count"`
}

// RetryConfig bounds the dispatch loop.
type RetryConfig struct {
	MaxAttemptsPerProvider int           `yaml:"max_attempts_per_provider"`
	Backoff                time.Duration `yaml:"backoff"`
	MaxBackoff             time.Duration `yaml:"max_backoff"`
	AttemptTimeout         time.Duration `yaml:"attempt_timeout"`
	GlobalDeadline         time.Duration `yaml:"global_deadline"`
}

// RateLimitConfig defines per-provider outbound rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// PostgresConfig holds connection settings for the record store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// StorageConfig selects the generation-record store.
type StorageConfig struct {
	Backend  string         `yaml:"backend"` // memory, postgres
	Postgres PostgresConfig `yaml:"postgres"`
}

// SecretsConfig configures the Vault source for scheme-form credential
// references. The env scheme is always available.
type SecretsConfig struct {
	VaultEnabled bool          `yaml:"vault_enabled"`
	VaultAddress string        `yaml:"vault_address"`
	AuthMethod   string        `yaml:"auth_method"` // approle, cert
	RoleID       string        `yaml:"role_id"`
	SecretID     string        `yaml:"secret_id"`
	CACert       string        `yaml:"ca_cert"`
	ClientCert   string        `yaml:"client_cert"`
	ClientKey    string        `yaml:"client_key"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// AuditConfig configures the cost-event sink.
type AuditConfig struct {
	S3Enabled     bool          `yaml:"s3_enabled"`
	S3Bucket      string        `yaml:"s3_bucket"`
	S3Region      string        `yaml:"s3_region"`
	S3Prefix      string        `yaml:"s3_prefix"`
	S3Endpoint    string        `yaml:"s3_endpoint"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 6 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Selection: SelectionConfig{
			Weights: WeightsConfig{
				Cost:        0.25,
				Quality:     0.25,
				Reliability: 0.25,
				Speed:       0.25,
			},
		},
		Budget: BudgetConfig{
			Backend:  "memory",
			Currency: "USD",
		},
		Validation: ValidationConfig{
			PIIAction:       "block",
			FailureMode:     "strict",
			MinPromptLength: 3,
			MaxPromptLength: 2000,
			MaxImageCount:   4,
		},
		Retry: RetryConfig{
			MaxAttemptsPerProvider: 3,
			Backoff:                2 * time.Second,
			MaxBackoff:             10 * time.Second,
			AttemptTimeout:         60 * time.Second,
			GlobalDeadline:         5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         5,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Secrets: SecretsConfig{
			CacheTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			FlushInterval: 10 * time.Second,
			BatchSize:     100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "imagemux",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// The write timeout has to outlast the retry deadline or the server
	// cuts connections mid-generation.
	if c.Server.WriteTimeout > 0 && c.Retry.GlobalDeadline > 0 && c.Server.WriteTimeout <= c.Retry.GlobalDeadline {
		return fmt.Errorf("server.write_timeout (%s) must exceed retry.global_deadline (%s)",
			c.Server.WriteTimeout, c.Retry.GlobalDeadline)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider[%d] %q: duplicate name", i, p.Name)
		}
		seen[p.Name] = true
		if p.Type == "" {
			return fmt.Errorf("provider[%d]: type is required", i)
		}
		if p.CostPerImage == "" {
			return fmt.Errorf("provider[%d] %q: cost_per_image is required", i, p.Name)
		}
		if p.QualityScore < 0 || p.QualityScore > 100 {
			return fmt.Errorf("provider[%d] %q: quality_score must be within [0,100]", i, p.Name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider[%d] %q: timeout cannot be negative", i, p.Name)
		}
		if p.MaxRPM < 0 {
			return fmt.Errorf("provider[%d] %q: max_rpm cannot be negative", i, p.Name)
		}
	}

	if err := validateWeights("selection.weights", c.Selection.Weights); err != nil {
		return err
	}
	for dept, w := range c.Selection.DepartmentWeights {
		if err := validateWeights("selection.department_weights."+dept, w); err != nil {
			return err
		}
	}

	switch c.Budget.Backend {
	case "", "memory":
	case "redis":
		if c.Budget.RedisAddr == "" {
			return fmt.Errorf("budget.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown budget backend %q", c.Budget.Backend)
	}
	for dept, b := range c.Budget.Departments {
		switch b.Mode {
		case "", "hard", "soft", "warn":
		default:
			return fmt.Errorf("budget.departments.%s: unknown mode %q", dept, b.Mode)
		}
	}

	switch c.Storage.Backend {
	case "", "memory":
	case "postgres":
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			return fmt.Errorf("storage.postgres host and database are required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Secrets.VaultEnabled && c.Secrets.VaultAddress == "" {
		return fmt.Errorf("secrets.vault_address is required when vault is enabled")
	}

	if c.Retry.MaxAttemptsPerProvider < 1 {
		return fmt.Errorf("retry.max_attempts_per_provider must be at least 1")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return fmt.Errorf("retry backoff durations cannot be negative")
	}

	if c.Audit.S3Enabled && c.Audit.S3Bucket == "" {
		return fmt.Errorf("audit.s3_bucket is required when s3 audit is enabled")
	}

	return nil
}

func validateWeights(field string, w WeightsConfig) error {
	sum := w.Cost + w.Quality + w.Reliability + w.Speed
	if sum == 0 {
		return nil // zero value falls back to defaults downstream
	}
	if w.Cost < 0 || w.Quality < 0 || w.Reliability < 0 || w.Speed < 0 {
		return fmt.Errorf("%s: weights cannot be negative", field)
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("%s: weights must sum to 1.0, got %.3f", field, sum)
	}
	return nil
}

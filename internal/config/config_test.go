package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validProviders() []ProviderConfig {
	return []ProviderConfig{
		{Name: "dalle", Type: "dalle", APIKey: "sk-test", Model: "dall-e-3", CostPerImage: "0.040"},
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}

	if cfg.Retry.MaxAttemptsPerProvider != 3 {
		t.Errorf("default max attempts = %d, want 3", cfg.Retry.MaxAttemptsPerProvider)
	}

	if cfg.Retry.GlobalDeadline != 5*time.Minute {
		t.Errorf("default global deadline = %v, want 5m", cfg.Retry.GlobalDeadline)
	}

	if cfg.Server.WriteTimeout <= cfg.Retry.GlobalDeadline {
		t.Errorf("default write timeout %v must exceed global deadline %v",
			cfg.Server.WriteTimeout, cfg.Retry.GlobalDeadline)
	}

	if cfg.Validation.PIIAction != "block" {
		t.Errorf("default pii action = %s, want block", cfg.Validation.PIIAction)
	}

	sum := cfg.Selection.Weights.Cost + cfg.Selection.Weights.Quality +
		cfg.Selection.Weights.Reliability + cfg.Selection.Weights.Speed
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("default weights sum = %.3f, want 1.0", sum)
	}

	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
}

func TestConfigValidation(t *testing.T) {
	base := func(mutate func(*Config)) *Config {
		cfg := DefaultConfig()
		cfg.Providers = validProviders()
		if mutate != nil {
			mutate(cfg)
		}
		return cfg
	}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "valid config", cfg: base(nil), wantErr: false},
		{
			name:    "invalid port zero",
			cfg:     base(func(c *Config) { c.Server.Port = 0 }),
			wantErr: true,
		},
		{
			name:    "invalid port too high",
			cfg:     base(func(c *Config) { c.Server.Port = 70000 }),
			wantErr: true,
		},
		{
			name: "write timeout below retry deadline",
			cfg: base(func(c *Config) {
				c.Server.WriteTimeout = 30 * time.Second
				c.Retry.GlobalDeadline = 5 * time.Minute
			}),
			wantErr: true,
		},
		{
			name:    "no providers",
			cfg:     base(func(c *Config) { c.Providers = nil }),
			wantErr: true,
		},
		{
			name:    "provider missing name",
			cfg:     base(func(c *Config) { c.Providers[0].Name = "" }),
			wantErr: true,
		},
		{
			name: "duplicate provider name",
			cfg: base(func(c *Config) {
				c.Providers = append(c.Providers, c.Providers[0])
			}),
			wantErr: true,
		},
		{
			name:    "provider missing cost",
			cfg:     base(func(c *Config) { c.Providers[0].CostPerImage = "" }),
			wantErr: true,
		},
		{
			name:    "quality score out of range",
			cfg:     base(func(c *Config) { c.Providers[0].QualityScore = 140 }),
			wantErr: true,
		},
		{
			name: "weights do not sum to one",
			cfg: base(func(c *Config) {
				c.Selection.Weights = WeightsConfig{Cost: 0.9, Quality: 0.9}
			}),
			wantErr: true,
		},
		{
			name: "department weight override invalid",
			cfg: base(func(c *Config) {
				c.Selection.DepartmentWeights = map[string]WeightsConfig{
					"marketing": {Cost: -0.5, Quality: 1.5},
				}
			}),
			wantErr: true,
		},
		{
			name:    "redis backend without address",
			cfg:     base(func(c *Config) { c.Budget.Backend = "redis" }),
			wantErr: true,
		},
		{
			name:    "unknown budget mode",
			cfg:     base(func(c *Config) { c.Budget.Departments = map[string]DepartmentBudget{"x": {Mode: "rigid"}} }),
			wantErr: true,
		},
		{
			name: "postgres backend without database",
			cfg: base(func(c *Config) {
				c.Storage.Backend = "postgres"
				c.Storage.Postgres = PostgresConfig{}
			}),
			wantErr: true,
		},
		{
			name:    "vault enabled without address",
			cfg:     base(func(c *Config) { c.Secrets.VaultEnabled = true }),
			wantErr: true,
		},
		{
			name:    "zero retry attempts",
			cfg:     base(func(c *Config) { c.Retry.MaxAttemptsPerProvider = 0 }),
			wantErr: true,
		},
		{
			name:    "s3 audit without bucket",
			cfg:     base(func(c *Config) { c.Audit.S3Enabled = true }),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
providers:
  - name: dalle
    type: dalle
    api_key: sk-test
    model: dall-e-3
    cost_per_image: "0.040"
    quality_score: 90
    sla_percent: 99.9
    commercial_use: true
    max_resolution: 1792
  - name: sdxl
    type: sdxl
    api_key: r8-test
    cost_per_image: "0.018"
    enabled: false
budget:
  currency: EUR
  departments:
    marketing:
      limit: "500.00"
      mode: hard
      alert_threshold_percent: 80
retry:
  max_attempts_per_provider: 2
  attempt_timeout: 30s
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.Providers))
	}
	if !cfg.Providers[0].IsEnabled() {
		t.Error("dalle should default to enabled")
	}
	if cfg.Providers[1].IsEnabled() {
		t.Error("sdxl is explicitly disabled")
	}
	if cfg.Budget.Currency != "EUR" {
		t.Errorf("currency = %s, want EUR", cfg.Budget.Currency)
	}
	if got := cfg.Budget.Departments["marketing"].Limit; got != "500.00" {
		t.Errorf("marketing limit = %s, want 500.00", got)
	}
	if cfg.Retry.MaxAttemptsPerProvider != 2 {
		t.Errorf("max attempts = %d, want 2", cfg.Retry.MaxAttemptsPerProvider)
	}
	if cfg.Retry.AttemptTimeout != 30*time.Second {
		t.Errorf("attempt timeout = %v, want 30s", cfg.Retry.AttemptTimeout)
	}
	// Unset sections keep their defaults.
	if cfg.Retry.GlobalDeadline != 5*time.Minute {
		t.Errorf("global deadline = %v, want default 5m", cfg.Retry.GlobalDeadline)
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("IMAGEMUX_TEST_KEY", "sk-from-env")
	path := writeConfigFile(t, `
server:
  port: 8080
providers:
  - name: dalle
    type: dalle
    api_key: ${IMAGEMUX_TEST_KEY}
    cost_per_image: "0.040"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want sk-from-env", cfg.Providers[0].APIKey)
	}
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8080
providers: []
`)

	_, err := LoadFromFile(path)
	if err == nil {
		t.Fatal("expected error for empty providers")
	}
	if !strings.Contains(err.Error(), "provider") {
		t.Errorf("error %q should mention providers", err)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

// Package provider defines the public contract for image-generation provider
// adapters. Each backend (DALL·E, SDXL, Firefly, ...) implements Adapter to
// translate the unified request into its own API and map its failures onto
// the shared error taxonomy.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imagemux/imagemux/pkg/types"
)

// Adapter is implemented once per provider. Generate must be idempotent-safe:
// the orchestrator may call it repeatedly for the same logical request on
// transient failure. Implementations must honor ctx cancellation and
// deadlines, returning promptly when either fires.
type Adapter interface {
	// Name returns the provider identifier (e.g. "dalle", "sdxl").
	Name() string

	// Generate performs one generation attempt.
	Generate(ctx context.Context, req *types.ProviderRequest) (*types.ProviderResult, error)
}

// Candidate describes one provider/model pairing available for selection.
// Candidates are read-mostly: loaded from configuration or a registry and
// refreshed by an external collaborator.
type Candidate struct {
	Provider      string          `json:"provider"`
	Model         string          `json:"model"`
	CostPerImage  decimal.Decimal `json:"cost_per_image"`
	QualityScore  float64         `json:"quality_score"` // static, [0,100]
	SLAPercent    float64         `json:"sla_percent"`
	CommercialUse bool            `json:"commercial_use"`
	MaxResolution int             `json:"max_resolution"` // max edge in pixels
	Enabled       bool            `json:"enabled"`
}

// EstimateCost returns the projected spend for count images.
func (c Candidate) EstimateCost(count int) decimal.Decimal {
	if count < 1 {
		count = 1
	}
	return c.CostPerImage.Mul(decimal.NewFromInt(int64(count)))
}

// Config carries adapter construction parameters. APIKey accepts secret
// references in scheme form (env://NAME, vault://path#field) resolved at
// client construction time.
type Config struct {
	Name         string
	Type         string
	APIKey       string
	APISecret    string
	BaseURL      string
	Deployment   string // Azure-style deployment name, where applicable
	Timeout      time.Duration
	MaxRPM       int // per-provider request rate cap; 0 disables limiting
	HTTPClient   HTTPDoer
	ExtraHeaders map[string]string
}

// HTTPDoer matches *http.Client, letting tests substitute transports.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Factory creates adapter instances from configuration.
type Factory func(cfg Config) (Adapter, error)

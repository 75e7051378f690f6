package imagemux

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"

	"github.com/imagemux/imagemux/internal/audit"
	"github.com/imagemux/imagemux/internal/repository"
	"github.com/imagemux/imagemux/internal/resilience"
	"github.com/imagemux/imagemux/internal/secret"
	"github.com/imagemux/imagemux/internal/validator"
	"github.com/imagemux/imagemux/pkg/budget"
	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/selector"
	"github.com/imagemux/imagemux/pkg/types"
)

// ProviderConfig couples adapter wiring with the candidate metadata the
// selector scores against.
type ProviderConfig struct {
	provider.Config

	// Model is the provider's model identifier for reporting.
	Model string

	// CostPerImage is the per-image cost in currency units.
	CostPerImage decimal.Decimal

	// QualityScore is the static configured quality in [0,100].
	QualityScore float64

	// SLAPercent is the provider's declared SLA.
	SLAPercent float64

	// CommercialUse marks output as licensed for commercial use.
	CommercialUse bool

	// MaxResolution is the largest supported edge in pixels.
	MaxResolution int

	// Enabled gates the candidate in or out of selection.
	Enabled bool
}

// providerInstance holds a pre-built adapter with its candidate metadata.
type providerInstance struct {
	adapter   provider.Adapter
	candidate provider.Candidate
}

// ClientConfig holds all configuration for the Client.
type ClientConfig struct {
	// Providers configuration
	Providers         []ProviderConfig
	ProviderInstances []providerInstance

	// Collaborators. Nil values fall back to in-memory defaults.
	Ledger     budget.Ledger
	Selector   selector.Selector
	Validator  *validator.Validator
	StatsStore selector.StatsStore
	Repository repository.Store
	AuditSink  audit.Sink
	RateLimit  *resilience.ProviderRateLimiter

	// Secrets resolves scheme-form credential references in provider
	// configuration. Nil gets a resolver with the env scheme only.
	Secrets *secret.Resolver

	// DefaultWeights replace the balanced scoring weights for requests
	// whose department has no override. Invalid weights are ignored.
	DefaultWeights selector.Weights

	// DepartmentWeights override the default balanced scoring weights
	// per department.
	DepartmentWeights map[string]selector.Weights

	// Request shape bounds.
	Limits types.RequestLimits

	// Currency labels every cost event.
	Currency string

	// Retry and deadline policy.
	MaxAttemptsPerProvider int
	RetryBackoff           time.Duration
	RetryMaxBackoff        time.Duration
	AttemptTimeout         time.Duration
	GlobalDeadline         time.Duration

	// Logging and tracing.
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Option is a function that configures the Client.
type Option func(*ClientConfig)

// defaultConfig returns sensible defaults.
func defaultConfig() *ClientConfig {
	return &ClientConfig{
		Limits:                 types.DefaultRequestLimits(),
		Currency:               "USD",
		MaxAttemptsPerProvider: 3,
		RetryBackoff:           2 * time.Second,
		RetryMaxBackoff:        10 * time.Second,
		AttemptTimeout:         60 * time.Second,
		GlobalDeadline:         5 * time.Minute,
		Logger:                 slog.Default(),
	}
}

// WithProvider adds a provider configuration. The adapter is created
// automatically based on the Type field.
//
// Example:
//
//	imagemux.WithProvider(imagemux.ProviderConfig{
//	    Config: provider.Config{
//	        Name:   "sdxl",
//	        Type:   "sdxl",
//	        APIKey: os.Getenv("REPLICATE_API_TOKEN"),
//	    },
//	    CostPerImage:  decimal.RequireFromString("0.02"),
//	    QualityScore:  70,
//	    MaxResolution: 2048,
//	    Enabled:       true,
//	})
func WithProvider(cfg ProviderConfig) Option {
	return func(c *ClientConfig) {
		c.Providers = append(c.Providers, cfg)
	}
}

// WithProviderInstance adds a pre-configured adapter instance. Use this
// when you need adapter configuration beyond what ProviderConfig offers.
func WithProviderInstance(adapter provider.Adapter, candidate provider.Candidate) Option {
	return func(c *ClientConfig) {
		c.ProviderInstances = append(c.ProviderInstances, providerInstance{
			adapter:   adapter,
			candidate: candidate,
		})
	}
}

// WithLedger sets the budget ledger. Defaults to an in-memory ledger.
func WithLedger(l budget.Ledger) Option {
	return func(c *ClientConfig) { c.Ledger = l }
}

// WithSelector sets a custom selector implementation.
func WithSelector(s selector.Selector) Option {
	return func(c *ClientConfig) { c.Selector = s }
}

// WithValidator sets the prompt validator.
func WithValidator(v *validator.Validator) Option {
	return func(c *ClientConfig) { c.Validator = v }
}

// WithStatsStore sets the provider stats store feeding reliability and
// speed scores. Defaults to an in-memory store.
func WithStatsStore(s selector.StatsStore) Option {
	return func(c *ClientConfig) { c.StatsStore = s }
}

// WithRepository sets the generation record store.
func WithRepository(r repository.Store) Option {
	return func(c *ClientConfig) { c.Repository = r }
}

// WithAuditSink sets the audit sink receiving cost events and terminal
// records. Defaults to a log sink.
func WithAuditSink(s audit.Sink) Option {
	return func(c *ClientConfig) { c.AuditSink = s }
}

// WithSecretResolver sets the resolver for credential references like
// env://DALLE_API_KEY or vault://secret/data/dalle#api_key.
func WithSecretResolver(r *secret.Resolver) Option {
	return func(c *ClientConfig) { c.Secrets = r }
}

// WithRateLimiter sets the per-provider request pacer.
func WithRateLimiter(l *resilience.ProviderRateLimiter) Option {
	return func(c *ClientConfig) { c.RateLimit = l }
}

// WithDefaultWeights sets the scoring weights applied when a department
// has no override.
func WithDefaultWeights(w selector.Weights) Option {
	return func(c *ClientConfig) { c.DefaultWeights = w }
}

// WithDepartmentWeights sets scoring weights for one department.
func WithDepartmentWeights(departmentID string, w selector.Weights) Option {
	return func(c *ClientConfig) {
		if c.DepartmentWeights == nil {
			c.DepartmentWeights = make(map[string]selector.Weights)
		}
		c.DepartmentWeights[departmentID] = w
	}
}

// WithRequestLimits overrides the request shape bounds.
func WithRequestLimits(l types.RequestLimits) Option {
	return func(c *ClientConfig) { c.Limits = l }
}

// WithCurrency sets the currency label on cost events.
func WithCurrency(code string) Option {
	return func(c *ClientConfig) {
		if code != "" {
			c.Currency = code
		}
	}
}

// WithRetryPolicy sets the per-provider retry policy: attempt count and
// exponential backoff bounds.
func WithRetryPolicy(maxAttempts int, backoff, maxBackoff time.Duration) Option {
	return func(c *ClientConfig) {
		if maxAttempts > 0 {
			c.MaxAttemptsPerProvider = maxAttempts
		}
		if backoff > 0 {
			c.RetryBackoff = backoff
		}
		if maxBackoff > 0 {
			c.RetryMaxBackoff = maxBackoff
		}
	}
}

// WithAttemptTimeout bounds each individual provider call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *ClientConfig) {
		if d > 0 {
			c.AttemptTimeout = d
		}
	}
}

// WithGlobalDeadline bounds the whole request including retries and
// fallbacks.
func WithGlobalDeadline(d time.Duration) Option {
	return func(c *ClientConfig) {
		if d > 0 {
			c.GlobalDeadline = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *ClientConfig) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithTracer sets the OpenTelemetry tracer for generation spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *ClientConfig) { c.Tracer = t }
}

package imagemux

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/imagemux/imagemux/budgets"
	"github.com/imagemux/imagemux/internal/audit"
	"github.com/imagemux/imagemux/internal/observability"
	"github.com/imagemux/imagemux/internal/repository"
	"github.com/imagemux/imagemux/internal/secret"
	"github.com/imagemux/imagemux/internal/validator"
	"github.com/imagemux/imagemux/pkg/budget"
	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/selector"
	"github.com/imagemux/imagemux/providers"
	"github.com/imagemux/imagemux/selectors"
)

// Client orchestrates generation requests end to end. It is safe for
// concurrent use; each request is an independent unit of work.
type Client struct {
	config *ClientConfig

	adapters   map[string]provider.Adapter
	candidates []provider.Candidate

	validator *validator.Validator
	selector  selector.Selector
	stats     selector.StatsStore
	ledger    budget.Ledger
	repo      repository.Store
	sink      audit.Sink
	logger    *observability.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
}

// New creates a Client from the given options.
func New(opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Client{
		config:   cfg,
		adapters: make(map[string]provider.Adapter),
		cancels:  make(map[string]context.CancelFunc),
		logger:   observability.WrapLogger(cfg.Logger),
	}

	secrets := cfg.Secrets
	if secrets == nil {
		secrets = secret.NewResolver()
	}

	providers.RegisterBuiltins()
	for _, pc := range cfg.Providers {
		if err := c.addProviderFromConfig(pc, secrets); err != nil {
			return nil, err
		}
	}
	for _, inst := range cfg.ProviderInstances {
		if err := c.addProviderInstance(inst.adapter, inst.candidate); err != nil {
			return nil, err
		}
	}

	c.validator = cfg.Validator
	if c.validator == nil {
		c.validator = validator.New(
			validator.WithLengthBounds(cfg.Limits.MinPromptLength, cfg.Limits.MaxPromptLength),
		)
	}

	c.stats = cfg.StatsStore
	if c.stats == nil {
		c.stats = selectors.NewMemoryStatsStore()
	}

	c.selector = cfg.Selector
	if c.selector == nil {
		c.selector = selectors.NewWeightedSelector(c.stats,
			selectors.WithLogger(cfg.Logger),
		)
	}

	c.ledger = cfg.Ledger
	if c.ledger == nil {
		c.ledger = budgets.NewMemoryLedger(budgets.WithLogger(cfg.Logger))
	}

	c.repo = cfg.Repository
	if c.repo == nil {
		c.repo = repository.NewMemoryStore()
	}

	c.sink = cfg.AuditSink
	if c.sink == nil {
		c.sink = audit.NewLogSink(cfg.Logger)
	}

	return c, nil
}

func (c *Client) addProviderFromConfig(pc ProviderConfig, secrets *secret.Resolver) error {
	var err error
	if pc.APIKey, err = secrets.Resolve(context.Background(), pc.APIKey); err != nil {
		return fmt.Errorf("provider %s: resolve api key: %w", pc.Name, err)
	}
	if pc.APISecret, err = secrets.Resolve(context.Background(), pc.APISecret); err != nil {
		return fmt.Errorf("provider %s: resolve api secret: %w", pc.Name, err)
	}

	adapter, err := providers.Create(pc.Config)
	if err != nil {
		return fmt.Errorf("provider %s: %w", pc.Name, err)
	}
	return c.addProviderInstance(adapter, provider.Candidate{
		Provider:      c.candidateName(pc),
		Model:         pc.Model,
		CostPerImage:  pc.CostPerImage,
		QualityScore:  pc.QualityScore,
		SLAPercent:    pc.SLAPercent,
		CommercialUse: pc.CommercialUse,
		MaxResolution: pc.MaxResolution,
		Enabled:       pc.Enabled,
	})
}

func (c *Client) candidateName(pc ProviderConfig) string {
	if pc.Name != "" {
		return pc.Name
	}
	return pc.Type
}

func (c *Client) addProviderInstance(adapter provider.Adapter, candidate provider.Candidate) error {
	if adapter == nil {
		return fmt.Errorf("nil adapter")
	}
	if candidate.Provider == "" {
		candidate.Provider = adapter.Name()
	}
	if _, exists := c.adapters[candidate.Provider]; exists {
		return fmt.Errorf("provider %s already registered", candidate.Provider)
	}
	c.adapters[candidate.Provider] = adapter
	c.candidates = append(c.candidates, candidate)
	return nil
}

// Candidates returns the configured candidate list.
func (c *Client) Candidates() []provider.Candidate {
	out := make([]provider.Candidate, len(c.candidates))
	copy(out, c.candidates)
	return out
}

// Ledger exposes the budget ledger for provisioning and inspection.
func (c *Client) Ledger() budget.Ledger {
	return c.ledger
}

// GetRecord returns the stored record for a request ID.
func (c *Client) GetRecord(ctx context.Context, id string) (*Record, error) {
	return c.repo.Get(ctx, id)
}

// ListRecords returns stored records matching the filter.
func (c *Client) ListRecords(ctx context.Context, filter repository.ListFilter) ([]*Record, error) {
	return c.repo.List(ctx, filter)
}

// Cancel signals cancellation for an in-flight request. It returns
// false when the request is unknown or already terminal.
func (c *Client) Cancel(requestID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[requestID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// Close flushes the audit sink and releases resources. In-flight
// requests are cancelled.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancels := make([]context.CancelFunc, 0, len(c.cancels))
	for _, cancel := range c.cancels {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	if err := c.sink.Close(context.Background()); err != nil {
		return err
	}
	return c.repo.Close()
}

func (c *Client) trackCancel(requestID string, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancels[requestID] = cancel
	c.mu.Unlock()
}

func (c *Client) untrackCancel(requestID string) {
	c.mu.Lock()
	delete(c.cancels, requestID)
	c.mu.Unlock()
}

func (c *Client) weightsFor(departmentID string) selector.Weights {
	if w, ok := c.config.DepartmentWeights[departmentID]; ok {
		return w
	}
	if c.config.DefaultWeights.Valid() {
		return c.config.DefaultWeights
	}
	return selector.DefaultWeights()
}

func generateRequestID() string {
	return uuid.NewString()
}

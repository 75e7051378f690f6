package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/imagemux/imagemux"
	"github.com/imagemux/imagemux/budgets"
	"github.com/imagemux/imagemux/internal/audit"
	"github.com/imagemux/imagemux/internal/config"
	"github.com/imagemux/imagemux/internal/repository"
	"github.com/imagemux/imagemux/internal/resilience"
	"github.com/imagemux/imagemux/internal/secret"
	"github.com/imagemux/imagemux/internal/validator"
	"github.com/imagemux/imagemux/pkg/budget"
	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/selector"
	"github.com/imagemux/imagemux/selectors"
)

// closers bundles the resources the client does not own itself.
type closers struct {
	fns []func() error
}

func (c *closers) add(fn func() error)      { c.fns = append(c.fns, fn) }
func (c *closers) addRedis(r *redis.Client) { c.add(r.Close) }

func (c *closers) closeAll(logger *slog.Logger) {
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}
}

// buildClient assembles an imagemux client from file configuration.
func buildClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*imagemux.Client, *closers, error) {
	cl := &closers{}
	opts := []imagemux.Option{
		imagemux.WithLogger(logger),
		imagemux.WithRetryPolicy(cfg.Retry.MaxAttemptsPerProvider, cfg.Retry.Backoff, cfg.Retry.MaxBackoff),
		imagemux.WithAttemptTimeout(cfg.Retry.AttemptTimeout),
		imagemux.WithGlobalDeadline(cfg.Retry.GlobalDeadline),
		imagemux.WithCurrency(cfg.Budget.Currency),
		imagemux.WithValidator(validator.New(
			validator.WithPIIAction(validator.PIIAction(cfg.Validation.PIIAction)),
			validator.WithFailureMode(validator.FailureMode(cfg.Validation.FailureMode)),
			validator.WithLengthBounds(cfg.Validation.MinPromptLength, cfg.Validation.MaxPromptLength),
		)),
	}

	resolver, err := buildSecretResolver(cfg.Secrets, logger)
	if err != nil {
		return nil, nil, err
	}
	cl.add(resolver.Close)
	opts = append(opts, imagemux.WithSecretResolver(resolver))

	providerOpts, rpmOverrides, err := buildProviderOptions(cfg.Providers)
	if err != nil {
		cl.closeAll(logger)
		return nil, nil, err
	}
	opts = append(opts, providerOpts...)

	if cfg.RateLimit.Enabled {
		opts = append(opts, imagemux.WithRateLimiter(resilience.NewProviderRateLimiter(
			resilience.ProviderRateLimiterConfig{
				DefaultRPM:   cfg.RateLimit.RequestsPerMinute,
				DefaultBurst: cfg.RateLimit.BurstSize,
				ProviderRPM:  rpmOverrides,
			},
		)))
	}

	opts = append(opts, buildWeightOptions(cfg.Selection)...)

	budgetOpts, err := buildBudgetOptions(ctx, cfg.Budget, cl, logger)
	if err != nil {
		cl.closeAll(logger)
		return nil, nil, err
	}
	opts = append(opts, budgetOpts...)

	if cfg.Storage.Backend == "postgres" {
		store, err := repository.NewPostgresStore(ctx, &repository.PostgresConfig{
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			Database: cfg.Storage.Postgres.Database,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
		})
		if err != nil {
			cl.closeAll(logger)
			return nil, nil, fmt.Errorf("postgres store: %w", err)
		}
		opts = append(opts, imagemux.WithRepository(store))
	}

	sink, err := buildAuditSink(cfg.Audit, logger)
	if err != nil {
		cl.closeAll(logger)
		return nil, nil, err
	}
	opts = append(opts, imagemux.WithAuditSink(sink))

	client, err := imagemux.New(opts...)
	if err != nil {
		cl.closeAll(logger)
		return nil, nil, err
	}
	return client, cl, nil
}

func buildSecretResolver(cfg config.SecretsConfig, logger *slog.Logger) (*secret.Resolver, error) {
	resolver := secret.NewResolver()
	if !cfg.VaultEnabled {
		return resolver, nil
	}

	vaultSrc, err := secret.NewVaultSource(secret.VaultConfig{
		Address:    cfg.VaultAddress,
		AuthMethod: cfg.AuthMethod,
		RoleID:     cfg.RoleID,
		SecretID:   cfg.SecretID,
		CACert:     cfg.CACert,
		ClientCert: cfg.ClientCert,
		ClientKey:  cfg.ClientKey,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("vault source: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	resolver.Register("vault", secret.NewCached(vaultSrc, ttl))
	return resolver, nil
}

func buildProviderOptions(provs []config.ProviderConfig) ([]imagemux.Option, map[string]int, error) {
	opts := make([]imagemux.Option, 0, len(provs))
	rpm := make(map[string]int)

	for _, pc := range provs {
		cost, err := decimal.NewFromString(pc.CostPerImage)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: parse cost_per_image %q: %w", pc.Name, pc.CostPerImage, err)
		}

		opts = append(opts, imagemux.WithProvider(imagemux.ProviderConfig{
			Config: provider.Config{
				Name:         pc.Name,
				Type:         pc.Type,
				APIKey:       pc.APIKey,
				APISecret:    pc.APISecret,
				BaseURL:      pc.BaseURL,
				Deployment:   pc.Deployment,
				Timeout:      pc.Timeout,
				MaxRPM:       pc.MaxRPM,
				ExtraHeaders: pc.Headers,
			},
			Model:         pc.Model,
			CostPerImage:  cost,
			QualityScore:  pc.QualityScore,
			SLAPercent:    pc.SLAPercent,
			CommercialUse: pc.CommercialUse,
			MaxResolution: pc.MaxResolution,
			Enabled:       pc.IsEnabled(),
		}))
		if pc.MaxRPM > 0 {
			rpm[pc.Name] = pc.MaxRPM
		}
	}
	return opts, rpm, nil
}

func buildWeightOptions(cfg config.SelectionConfig) []imagemux.Option {
	toWeights := func(w config.WeightsConfig) selector.Weights {
		return selector.Weights{
			Cost:        w.Cost,
			Quality:     w.Quality,
			Reliability: w.Reliability,
			Speed:       w.Speed,
		}
	}

	var opts []imagemux.Option
	if w := toWeights(cfg.Weights); w.Valid() {
		opts = append(opts, imagemux.WithDefaultWeights(w))
	}
	for dept, wc := range cfg.DepartmentWeights {
		if w := toWeights(wc); w.Valid() {
			opts = append(opts, imagemux.WithDepartmentWeights(dept, w))
		}
	}
	return opts
}

func buildBudgetOptions(ctx context.Context, cfg config.BudgetConfig, cl *closers, logger *slog.Logger) ([]imagemux.Option, error) {
	accounts, err := parseDepartmentBudgets(cfg.Departments)
	if err != nil {
		return nil, err
	}

	if cfg.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		cl.addRedis(rdb)

		ledger := budgets.NewRedisLedger(rdb)
		for _, acct := range accounts {
			if err := ledger.Provision(ctx, acct); err != nil {
				return nil, fmt.Errorf("provision %s: %w", acct.DepartmentID, err)
			}
		}
		return []imagemux.Option{
			imagemux.WithLedger(ledger),
			imagemux.WithStatsStore(selectors.NewRedisStatsStore(rdb)),
		}, nil
	}

	ledger := budgets.NewMemoryLedger(budgets.WithLogger(logger))
	for _, acct := range accounts {
		ledger.Provision(acct)
	}
	return []imagemux.Option{imagemux.WithLedger(ledger)}, nil
}

func parseDepartmentBudgets(departments map[string]config.DepartmentBudget) ([]budget.Account, error) {
	period := budget.CurrentPeriod(time.Now())
	accounts := make([]budget.Account, 0, len(departments))

	for dept, b := range departments {
		limit, err := decimal.NewFromString(b.Limit)
		if err != nil {
			return nil, fmt.Errorf("department %s: parse limit %q: %w", dept, b.Limit, err)
		}
		mode := budget.Mode(b.Mode)
		if b.Mode == "" {
			mode = budget.ModeHard
		}
		accounts = append(accounts, budget.Account{
			DepartmentID:          dept,
			Period:                period,
			Limit:                 limit,
			Mode:                  mode,
			AlertThresholdPercent: b.AlertThresholdPercent,
		})
	}
	return accounts, nil
}

func buildAuditSink(cfg config.AuditConfig, logger *slog.Logger) (audit.Sink, error) {
	logSink := audit.NewLogSink(logger)
	if !cfg.S3Enabled {
		return logSink, nil
	}

	s3Sink, err := audit.NewS3Sink(audit.S3Config{
		BucketName:    cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		PathPrefix:    cfg.S3Prefix,
		FlushInterval: cfg.FlushInterval,
		BatchSize:     cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 audit sink: %w", err)
	}
	return audit.NewMultiSink(logSink, s3Sink), nil
}

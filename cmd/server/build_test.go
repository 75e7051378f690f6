package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemux/imagemux/internal/config"
	"github.com/imagemux/imagemux/pkg/budget"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildProviderOptions(t *testing.T) {
	opts, rpm, err := buildProviderOptions([]config.ProviderConfig{
		{Name: "dalle", Type: "dalle", APIKey: "sk", CostPerImage: "0.040", MaxRPM: 30},
		{Name: "sdxl", Type: "sdxl", APIKey: "r8", CostPerImage: "0.018"},
	})
	require.NoError(t, err)
	assert.Len(t, opts, 2)
	assert.Equal(t, map[string]int{"dalle": 30}, rpm)
}

func TestBuildProviderOptionsBadCost(t *testing.T) {
	_, _, err := buildProviderOptions([]config.ProviderConfig{
		{Name: "dalle", Type: "dalle", CostPerImage: "four cents"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cost_per_image")
}

func TestParseDepartmentBudgets(t *testing.T) {
	accounts, err := parseDepartmentBudgets(map[string]config.DepartmentBudget{
		"marketing": {Limit: "500.00", Mode: "hard", AlertThresholdPercent: 80},
		"research":  {Limit: "100"},
	})
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	byDept := make(map[string]budget.Account, 2)
	for _, a := range accounts {
		byDept[a.DepartmentID] = a
	}

	mkt := byDept["marketing"]
	assert.True(t, mkt.Limit.Equal(decimal.RequireFromString("500.00")))
	assert.Equal(t, budget.ModeHard, mkt.Mode)
	assert.Equal(t, 80, mkt.AlertThresholdPercent)
	assert.Equal(t, budget.CurrentPeriod(time.Now()), mkt.Period)

	// Mode defaults to hard enforcement.
	assert.Equal(t, budget.ModeHard, byDept["research"].Mode)
}

func TestParseDepartmentBudgetsBadLimit(t *testing.T) {
	_, err := parseDepartmentBudgets(map[string]config.DepartmentBudget{
		"marketing": {Limit: "lots"},
	})
	assert.Error(t, err)
}

func TestBuildWeightOptionsSkipsInvalid(t *testing.T) {
	opts := buildWeightOptions(config.SelectionConfig{
		Weights: config.WeightsConfig{Cost: 0.7, Quality: 0.3},
		DepartmentWeights: map[string]config.WeightsConfig{
			"marketing": {Cost: 0.25, Quality: 0.25, Reliability: 0.25, Speed: 0.25},
			"broken":    {Cost: 0.9, Quality: 0.9},
		},
	})
	// Default weights plus the one valid department override.
	assert.Len(t, opts, 2)
}

func TestBuildAuditSinkLogOnly(t *testing.T) {
	sink, err := buildAuditSink(config.AuditConfig{}, discardLogger())
	require.NoError(t, err)
	assert.NotNil(t, sink)
}

func TestBuildSecretResolverEnvOnly(t *testing.T) {
	resolver, err := buildSecretResolver(config.SecretsConfig{}, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, resolver)
	t.Cleanup(func() { _ = resolver.Close() })
}

// Package imagemux is an image generation gateway that routes requests
// across multiple providers with prompt validation, weighted provider
// selection, department budget enforcement, and retry/fallback.
//
// A Client sequences each request through a fixed pipeline: the prompt
// is validated, eligible providers are ranked, a budget reservation is
// taken for the department, and providers are invoked in ranked order
// with bounded retries until one succeeds or all are exhausted. Every
// request ends in exactly one terminal state and emits exactly one cost
// event.
//
// Basic usage:
//
//	client, err := imagemux.New(
//	    imagemux.WithProvider(imagemux.ProviderConfig{
//	        Config: provider.Config{
//	            Name:   "dalle",
//	            Type:   "dalle",
//	            APIKey: os.Getenv("OPENAI_API_KEY"),
//	        },
//	        CostPerImage:  decimal.RequireFromString("0.04"),
//	        QualityScore:  90,
//	        MaxResolution: 1792,
//	        CommercialUse: true,
//	        Enabled:       true,
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	record, err := client.Generate(ctx, &imagemux.Request{
//	    UserID:       "u-1",
//	    DepartmentID: "design",
//	    Prompt:       "a watercolor fox",
//	    ImageCount:   1,
//	    Size:         types.SizeSquare,
//	    AutoSelect:   true,
//	})
package imagemux

import (
	"github.com/imagemux/imagemux/pkg/budget"
	"github.com/imagemux/imagemux/pkg/selector"
	"github.com/imagemux/imagemux/pkg/types"
)

// Re-exported core types for a flatter API surface.
type (
	// Request is a generation request.
	Request = types.GenerationRequest

	// Record is the full lifecycle record of one request.
	Record = types.GenerationRecord

	// Attempt is one provider call within a request.
	Attempt = types.Attempt

	// CostEvent is the audit fact emitted once per terminal request.
	CostEvent = types.CostEvent

	// Status is the request lifecycle state.
	Status = types.Status

	// Weights are the selection scoring weights.
	Weights = selector.Weights

	// BudgetAccount is a department allowance snapshot.
	BudgetAccount = budget.Account
)

// Re-exported status constants.
const (
	StatusPending     = types.StatusPending
	StatusValidating  = types.StatusValidating
	StatusBudgetCheck = types.StatusBudgetCheck
	StatusDispatching = types.StatusDispatching
	StatusProcessing  = types.StatusProcessing
	StatusRetrying    = types.StatusRetrying
	StatusFallback    = types.StatusFallback
	StatusCompleted   = types.StatusCompleted
	StatusFailed      = types.StatusFailed
	StatusRejected    = types.StatusRejected
	StatusBlocked     = types.StatusBlocked
	StatusCancelled   = types.StatusCancelled
)

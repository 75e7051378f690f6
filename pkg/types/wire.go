package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderRequest is the normalized payload handed to a provider adapter.
// Adapters translate it into their own wire format.
type ProviderRequest struct {
	RequestID      string    `json:"request_id"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt,omitempty"`
	ImageCount     int       `json:"image_count"`
	Size           ImageSize `json:"size"`
	Quality        Quality   `json:"quality"`
}

// ProviderResult is the normalized adapter response. Images are opaque URIs;
// storage of the referenced objects is external to this core.
type ProviderResult struct {
	Images []string `json:"images"`

	// ActualCost is the provider-reported final cost. Zero means the
	// provider did not report one and the estimate stands.
	ActualCost decimal.Decimal `json:"actual_cost"`

	Elapsed  time.Duration     `json:"elapsed_ms"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

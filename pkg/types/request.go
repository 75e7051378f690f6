// Package types defines the unified request, record, and event types shared
// by the orchestrator, selectors, budget ledgers, and provider adapters.
package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ImageSize is a requested output resolution in "WxH" form.
type ImageSize string

// Standard sizes supported across providers.
const (
	SizeSquare    ImageSize = "1024x1024"
	SizeMedium    ImageSize = "1536x1536"
	SizeLarge     ImageSize = "2048x2048"
	SizePortrait  ImageSize = "1024x1792"
	SizeLandscape ImageSize = "1792x1024"
)

// Dimensions parses the size into width and height in pixels.
func (s ImageSize) Dimensions() (width, height int, err error) {
	parts := strings.SplitN(string(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid image size %q", s)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid image size %q", s)
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid image size %q", s)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid image size %q", s)
	}
	return width, height, nil
}

// MaxDimension returns the larger of width and height, or 0 if unparsable.
func (s ImageSize) MaxDimension() int {
	w, h, err := s.Dimensions()
	if err != nil {
		return 0
	}
	if w > h {
		return w
	}
	return h
}

// Quality is the requested rendering tier.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHD       Quality = "hd"
)

// RequestLimits bounds the accepted request shape. Zero values fall back to
// the package defaults.
type RequestLimits struct {
	MinPromptLength int
	MaxPromptLength int
	MaxImageCount   int
}

// DefaultRequestLimits mirror the gateway-level validation bounds.
func DefaultRequestLimits() RequestLimits {
	return RequestLimits{
		MinPromptLength: 3,
		MaxPromptLength: 2000,
		MaxImageCount:   4,
	}
}

// GenerationRequest is the immutable input to the orchestrator. The caller is
// an already-authenticated principal; UserID and DepartmentID arrive as
// opaque identifiers.
type GenerationRequest struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	DepartmentID   string    `json:"department_id"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt,omitempty"`
	ImageCount     int       `json:"image_count"`
	Size           ImageSize `json:"size"`
	Quality        Quality   `json:"quality"`

	// Provider pins the request to one provider. Empty means auto-select.
	Provider   string `json:"provider,omitempty"`
	AutoSelect bool   `json:"auto_select"`

	// CommercialUse requires candidates licensed for commercial output.
	CommercialUse bool `json:"commercial_use,omitempty"`

	// MaxCost caps the per-request spend. Zero means no explicit cap.
	MaxCost decimal.Decimal `json:"max_cost,omitempty"`
}

// Validate checks structural bounds before any side effect occurs.
func (r *GenerationRequest) Validate(limits RequestLimits) error {
	defaults := DefaultRequestLimits()
	if limits.MinPromptLength <= 0 {
		limits.MinPromptLength = defaults.MinPromptLength
	}
	if limits.MaxPromptLength <= 0 {
		limits.MaxPromptLength = defaults.MaxPromptLength
	}
	if limits.MaxImageCount <= 0 {
		limits.MaxImageCount = defaults.MaxImageCount
	}

	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if r.DepartmentID == "" {
		return fmt.Errorf("department_id is required")
	}
	if r.ImageCount < 1 || r.ImageCount > limits.MaxImageCount {
		return fmt.Errorf("image_count must be between 1 and %d, got %d", limits.MaxImageCount, r.ImageCount)
	}
	promptLen := len(strings.TrimSpace(r.Prompt))
	if promptLen < limits.MinPromptLength {
		return fmt.Errorf("prompt must be at least %d characters", limits.MinPromptLength)
	}
	if promptLen > limits.MaxPromptLength {
		return fmt.Errorf("prompt must be at most %d characters", limits.MaxPromptLength)
	}
	if _, _, err := r.Size.Dimensions(); err != nil {
		return err
	}
	if !r.AutoSelect && r.Provider == "" {
		return fmt.Errorf("provider is required unless auto_select is set")
	}
	return nil
}

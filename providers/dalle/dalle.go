// Package dalle provides the OpenAI DALL·E image adapter, including the
// Azure OpenAI deployment variant. It serves as the reference
// implementation for other provider adapters.
package dalle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/imagemux/imagemux/internal/httputil"
	muxerrors "github.com/imagemux/imagemux/pkg/errors"
	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "dalle"

	// AzureProviderName is the identifier for the Azure-hosted variant.
	AzureProviderName = "azure-dalle"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the image model requested when none is configured.
	DefaultModel = "dall-e-3"

	// azureAPIVersion pins the Azure OpenAI Images API version.
	azureAPIVersion = "2024-02-01"
)

// Adapter implements the DALL·E Images API adapter.
type Adapter struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	deployment string
	azure      bool
	headers    map[string]string
	httpClient provider.HTTPDoer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(a *Adapter) { a.apiKey = key }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(a *Adapter) {
		if url != "" {
			a.baseURL = url
		}
	}
}

// WithModel overrides the requested model.
func WithModel(model string) Option {
	return func(a *Adapter) {
		if model != "" {
			a.model = model
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c provider.HTTPDoer) Option {
	return func(a *Adapter) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithAzureDeployment switches the adapter to the Azure OpenAI API
// surface for the given deployment name.
func WithAzureDeployment(deployment string) Option {
	return func(a *Adapter) {
		a.azure = true
		a.deployment = deployment
		a.name = AzureProviderName
	}
}

// New creates a new DALL·E adapter with the given options.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		name:       ProviderName,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		headers:    make(map[string]string),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromConfig creates an adapter from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("dalle: api key is required")
	}
	a := New(
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
	)
	applyConfig(a, cfg)
	return a, nil
}

// NewAzureFromConfig creates an Azure OpenAI adapter from a Config struct.
func NewAzureFromConfig(cfg provider.Config) (provider.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("azure-dalle: api key is required")
	}
	if cfg.BaseURL == "" || cfg.Deployment == "" {
		return nil, fmt.Errorf("azure-dalle: endpoint and deployment are required")
	}
	a := New(
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
		WithAzureDeployment(cfg.Deployment),
	)
	applyConfig(a, cfg)
	return a, nil
}

func applyConfig(a *Adapter, cfg provider.Config) {
	if cfg.HTTPClient != nil {
		a.httpClient = cfg.HTTPClient
	} else if cfg.Timeout > 0 {
		a.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	for k, v := range cfg.ExtraHeaders {
		a.headers[k] = v
	}
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return a.name
}

type imageRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	Quality        string `json:"quality,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Generate produces images for the request. DALL·E 3 only accepts one
// image per API call, so multi-image requests issue sequential calls.
func (a *Adapter) Generate(ctx context.Context, req *types.ProviderRequest) (*types.ProviderResult, error) {
	start := time.Now()
	urls := make([]string, 0, req.ImageCount)

	for i := 0; i < req.ImageCount; i++ {
		url, err := a.generateOne(ctx, req)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}

	return &types.ProviderResult{
		Images:  urls,
		Elapsed: time.Since(start),
		Metadata: map[string]string{
			"model": a.model,
		},
	}, nil
}

func (a *Adapter) generateOne(ctx context.Context, req *types.ProviderRequest) (string, error) {
	payload := imageRequest{
		Prompt:         req.Prompt,
		N:              1,
		Size:           sizeParam(req.Size),
		Quality:        string(req.Quality),
		ResponseFormat: "url",
	}
	if !a.azure {
		payload.Model = a.model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.azure {
		httpReq.Header.Set("api-key", a.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError(a.name, err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadBody(resp.Body, httputil.MaxProviderResponseBytes)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(a.name, resp.StatusCode, respBody)
	}

	var imgResp imageResponse
	if err := json.Unmarshal(respBody, &imgResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(imgResp.Data) == 0 || imgResp.Data[0].URL == "" {
		return "", muxerrors.NewProviderRejectedError(a.name, "response contained no image", resp.StatusCode)
	}
	return imgResp.Data[0].URL, nil
}

func (a *Adapter) endpoint() string {
	base := strings.TrimSuffix(a.baseURL, "/")
	if a.azure {
		return fmt.Sprintf("%s/openai/deployments/%s/images/generations?api-version=%s", base, a.deployment, azureAPIVersion)
	}
	return base + "/images/generations"
}

// sizeParam maps the requested size onto a supported DALL·E 3 size.
func sizeParam(size types.ImageSize) string {
	switch size {
	case types.SizePortrait, types.SizeLandscape, types.SizeSquare:
		return string(size)
	default:
		return string(types.SizeSquare)
	}
}

func transportError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return muxerrors.NewProviderTimeoutError(name, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return muxerrors.NewCancelledError(err.Error())
	}
	return muxerrors.NewProviderTransientError(name, err.Error(), 0)
}

func statusError(name string, status int, body []byte) error {
	var imgResp imageResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &imgResp); err == nil && imgResp.Error != nil {
		msg = imgResp.Error.Message
	}

	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return muxerrors.NewProviderTimeoutError(name, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return muxerrors.NewProviderTransientError(name, msg, status)
	default:
		return muxerrors.NewProviderRejectedError(name, msg, status)
	}
}

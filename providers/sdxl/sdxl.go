// Package sdxl provides the Stable Diffusion XL adapter backed by the
// Replicate predictions API. Replicate is asynchronous: a prediction is
// created, then polled until it reaches a terminal status.
package sdxl

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
	ProviderName = "sdxl"

	// DefaultBaseURL is the Replicate API endpoint.
	DefaultBaseURL = "https://api.replicate.com/v1"

	// DefaultModelVersion is the pinned SDXL version hash on Replicate.
	DefaultModelVersion = "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"

	// defaultPollInterval is how often prediction status is checked.
	defaultPollInterval = 5 * time.Second
)

// Adapter implements the Replicate SDXL adapter.
type Adapter struct {
	apiKey       string
	baseURL      string
	modelVersion string
	pollInterval time.Duration
	httpClient   provider.HTTPDoer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAPIKey sets the Replicate API token.
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

// WithModelVersion overrides the pinned model version hash.
func WithModelVersion(version string) Option {
	return func(a *Adapter) {
		if version != "" {
			a.modelVersion = version
		}
	}
}

// WithPollInterval overrides the status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.pollInterval = d
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

// New creates a new SDXL adapter with the given options.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:      DefaultBaseURL,
		modelVersion: DefaultModelVersion,
		pollInterval: defaultPollInterval,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromConfig creates an adapter from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sdxl: api key is required")
	}
	a := New(
		WithAPIKey(cfg.APIKey),
		WithBaseURL(cfg.BaseURL),
	)
	if cfg.HTTPClient != nil {
		a.httpClient = cfg.HTTPClient
	} else if cfg.Timeout > 0 {
		a.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return a, nil
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return ProviderName
}

type predictionInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	NumOutputs     int    `json:"num_outputs"`
}

type createPredictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Error  string   `json:"error"`
}

// Generate creates a prediction and polls it to completion.
func (a *Adapter) Generate(ctx context.Context, req *types.ProviderRequest) (*types.ProviderResult, error) {
	start := time.Now()

	width, height, err := req.Size.Dimensions()
	if err != nil {
		return nil, muxerrors.NewProviderRejectedError(ProviderName, err.Error(), http.StatusBadRequest)
	}

	created, err := a.createPrediction(ctx, createPredictionRequest{
		Version: a.modelVersion,
		Input: predictionInput{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
			Width:          width,
			Height:         height,
			NumOutputs:     req.ImageCount,
		},
	})
	if err != nil {
		return nil, err
	}

	final, err := a.awaitPrediction(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	return &types.ProviderResult{
		Images:  final.Output,
		Elapsed: time.Since(start),
		Metadata: map[string]string{
			"prediction_id": final.ID,
			"model_version": a.modelVersion,
		},
	}, nil
}

func (a *Adapter) createPrediction(ctx context.Context, reqBody createPredictionRequest) (*prediction, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.predictionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+a.apiKey)

	return a.doPrediction(httpReq)
}

// awaitPrediction polls the prediction until Replicate reports a
// terminal status or the context expires.
func (a *Adapter) awaitPrediction(ctx context.Context, id string) (*prediction, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctxError(ctx.Err())
		case <-ticker.C:
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.predictionsURL()+"/"+id, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Token "+a.apiKey)

		pred, err := a.doPrediction(httpReq)
		if err != nil {
			return nil, err
		}

		switch pred.Status {
		case "succeeded":
			if len(pred.Output) == 0 {
				return nil, muxerrors.NewProviderRejectedError(ProviderName, "prediction succeeded with no output", http.StatusOK)
			}
			return pred, nil
		case "failed", "canceled":
			msg := pred.Error
			if msg == "" {
				msg = "prediction " + pred.Status
			}
			return nil, muxerrors.NewProviderRejectedError(ProviderName, msg, http.StatusUnprocessableEntity)
		case "starting", "processing":
			// Keep polling.
		default:
			return nil, muxerrors.NewProviderTransientError(ProviderName, "unexpected prediction status: "+pred.Status, 0)
		}
	}
}

func (a *Adapter) doPrediction(httpReq *http.Request) (*prediction, error) {
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, muxerrors.NewProviderTimeoutError(ProviderName, err.Error())
		}
		if errors.Is(err, context.Canceled) {
			return nil, muxerrors.NewCancelledError(err.Error())
		}
		return nil, muxerrors.NewProviderTransientError(ProviderName, err.Error(), 0)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadBody(resp.Body, httputil.MaxProviderResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg := strings.TrimSpace(string(body))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, muxerrors.NewProviderTransientError(ProviderName, msg, resp.StatusCode)
		default:
			return nil, muxerrors.NewProviderRejectedError(ProviderName, msg, resp.StatusCode)
		}
	}

	var pred prediction
	if err := json.Unmarshal(body, &pred); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &pred, nil
}

func (a *Adapter) predictionsURL() string {
	return strings.TrimSuffix(a.baseURL, "/") + "/predictions"
}

func ctxError(err error) error {
	if errors.Is(err, context.Canceled) {
		return muxerrors.NewCancelledError(err.Error())
	}
	return muxerrors.NewProviderTimeoutError(ProviderName, err.Error())
}

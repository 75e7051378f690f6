// Package firefly provides the Adobe Firefly image adapter. Adobe
// authenticates via an IMS client-credentials grant; token acquisition
// and refresh are delegated to an oauth2 token source.
package firefly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/imagemux/imagemux/internal/httputil"
	muxerrors "github.com/imagemux/imagemux/pkg/errors"
	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "firefly"

	// DefaultBaseURL is the Firefly API endpoint.
	DefaultBaseURL = "https://firefly-api.adobe.io/v2"

	// DefaultTokenURL is the Adobe IMS client-credentials endpoint.
	DefaultTokenURL = "https://ims-na1.adobelogin.com/ims/token/v3"
)

// Adapter implements the Adobe Firefly adapter.
type Adapter struct {
	clientID   string
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient provider.HTTPDoer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(a *Adapter) {
		if url != "" {
			a.baseURL = url
		}
	}
}

// WithTokenSource overrides the IMS token source.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(a *Adapter) {
		if ts != nil {
			a.tokens = ts
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

// New creates a new Firefly adapter. The token source defaults to an
// IMS client-credentials grant built from clientID and clientSecret.
func New(clientID, clientSecret string, opts ...Option) *Adapter {
	a := &Adapter{
		clientID:   clientID,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tokens == nil {
		cc := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     DefaultTokenURL,
			Scopes:       []string{"openid", "AdobeID", "firefly_api"},
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		a.tokens = cc.TokenSource(context.Background())
	}
	return a
}

// NewFromConfig creates an adapter from a Config struct.
func NewFromConfig(cfg provider.Config) (provider.Adapter, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("firefly: client id and secret are required")
	}
	var opts []Option
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(cfg.HTTPClient))
	} else if cfg.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return New(cfg.APIKey, cfg.APISecret, opts...), nil
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return ProviderName
}

type generateRequest struct {
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negativePrompt,omitempty"`
	N              int       `json:"n"`
	Size           imageSize `json:"size"`
}

type imageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type generateResponse struct {
	Outputs []struct {
		Image struct {
			URL string `json:"url"`
		} `json:"image"`
	} `json:"outputs"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Generate produces images via the Firefly generate endpoint.
func (a *Adapter) Generate(ctx context.Context, req *types.ProviderRequest) (*types.ProviderResult, error) {
	start := time.Now()

	token, err := a.tokens.Token()
	if err != nil {
		return nil, muxerrors.NewProviderTransientError(ProviderName, "token acquisition failed: "+err.Error(), 0)
	}

	width, height, err := req.Size.Dimensions()
	if err != nil {
		return nil, muxerrors.NewProviderRejectedError(ProviderName, err.Error(), http.StatusBadRequest)
	}

	body, err := json.Marshal(generateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		N:              req.ImageCount,
		Size:           imageSize{Width: width, Height: height},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(a.baseURL, "/") + "/images/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)
	httpReq.Header.Set("x-api-key", a.clientID)

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

	respBody, err := httputil.ReadBody(resp.Body, httputil.MaxProviderResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, respBody)
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	urls := make([]string, 0, len(genResp.Outputs))
	for _, out := range genResp.Outputs {
		if out.Image.URL != "" {
			urls = append(urls, out.Image.URL)
		}
	}
	if len(urls) == 0 {
		return nil, muxerrors.NewProviderRejectedError(ProviderName, "response contained no images", resp.StatusCode)
	}

	return &types.ProviderResult{
		Images:  urls,
		Elapsed: time.Since(start),
	}, nil
}

func statusError(status int, body []byte) error {
	var genResp generateResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Message != "" {
		msg = genResp.Message
	}

	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return muxerrors.NewProviderTimeoutError(ProviderName, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return muxerrors.NewProviderTransientError(ProviderName, msg, status)
	default:
		return muxerrors.NewProviderRejectedError(ProviderName, msg, status)
	}
}

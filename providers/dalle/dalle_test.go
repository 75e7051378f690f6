package dalle

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imagemux/imagemux/internal/httputil"
	muxerrors "github.com/imagemux/imagemux/pkg/errors"
	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/types"
)

func testRequest(count int) *types.ProviderRequest {
	return &types.ProviderRequest{
		RequestID:  "req-1",
		Prompt:     "a lighthouse at dusk",
		ImageCount: count,
		Size:       types.SizeSquare,
		Quality:    types.QualityStandard,
	}
}

func TestGenerate_Success(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body imageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 1, body.N)
		assert.Equal(t, DefaultModel, body.Model)
		assert.Equal(t, "1024x1024", body.Size)

		fmt.Fprintf(w, `{"data":[{"url":"https://img.example/%d.png"}]}`, calls)
	}))
	defer srv.Close()

	a := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	res, err := a.Generate(context.Background(), testRequest(2))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"https://img.example/1.png", "https://img.example/2.png"}, res.Images)
}

func TestGenerate_RateLimitedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limit exceeded"}}`)
	}))
	defer srv.Close()

	a := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	_, err := a.Generate(context.Background(), testRequest(1))
	require.Error(t, err)
	assert.True(t, muxerrors.IsRetryable(err))
	assert.Equal(t, muxerrors.KindProviderTransient, muxerrors.KindOf(err))
}

func TestGenerate_BadRequestIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"content policy violation"}}`)
	}))
	defer srv.Close()

	a := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	_, err := a.Generate(context.Background(), testRequest(1))
	require.Error(t, err)
	assert.False(t, muxerrors.IsRetryable(err))
	assert.Equal(t, muxerrors.KindProviderRejected, muxerrors.KindOf(err))

	var genErr *muxerrors.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "content policy violation", genErr.Message)
}

func TestGenerate_OversizedResponseRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := bytes.Repeat([]byte("x"), 1<<20)
		for written := int64(0); written <= httputil.MaxProviderResponseBytes; written += int64(len(chunk)) {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	a := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	_, err := a.Generate(context.Background(), testRequest(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, httputil.ErrBodyTooLarge)
}

func TestGenerate_AzureVariant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/dalle3-prod/images/generations", r.URL.Path)
		assert.Equal(t, azureAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body imageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, body.Model)

		fmt.Fprint(w, `{"data":[{"url":"https://img.example/a.png"}]}`)
	}))
	defer srv.Close()

	a := New(WithAPIKey("test-key"), WithBaseURL(srv.URL), WithAzureDeployment("dalle3-prod"))
	res, err := a.Generate(context.Background(), testRequest(1))
	require.NoError(t, err)
	assert.Equal(t, AzureProviderName, a.Name())
	assert.Len(t, res.Images, 1)
}

func TestSizeParam_UnsupportedFallsBackToSquare(t *testing.T) {
	assert.Equal(t, "1024x1024", sizeParam(types.SizeLarge))
	assert.Equal(t, "1792x1024", sizeParam(types.SizeLandscape))
}

func TestNewFromConfig_RequiresAPIKey(t *testing.T) {
	_, err := NewFromConfig(provider.Config{Type: ProviderName})
	assert.Error(t, err)

	_, err = NewAzureFromConfig(provider.Config{Type: AzureProviderName, APIKey: "k"})
	assert.Error(t, err)
}

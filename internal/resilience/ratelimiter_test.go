package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRateLimiter_AllowWithinBurst(t *testing.T) {
	l := NewProviderRateLimiter(ProviderRateLimiterConfig{DefaultRPM: 60, DefaultBurst: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("dalle"), "request %d should be within burst", i)
	}
	assert.False(t, l.Allow("dalle"))

	// A different provider has its own bucket.
	assert.True(t, l.Allow("sdxl"))
}

func TestProviderRateLimiter_PerProviderOverride(t *testing.T) {
	l := NewProviderRateLimiter(ProviderRateLimiterConfig{
		DefaultRPM:   60,
		DefaultBurst: 1,
		ProviderRPM:  map[string]int{"firefly": 6000},
	})

	require.True(t, l.Allow("firefly"))
	// 6000 rpm refills 100 tokens/sec; the bucket recovers quickly.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.Allow("firefly"))
}

func TestProviderRateLimiter_WaitHonorsContext(t *testing.T) {
	l := NewProviderRateLimiter(ProviderRateLimiterConfig{DefaultRPM: 1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "dalle"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "dalle"))
}

package selectors

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/imagemux/imagemux/pkg/selector"
)

func TestMemoryStatsStore_RecordAndGet(t *testing.T) {
	store := NewMemoryStatsStore()
	ctx := context.Background()

	require.NoError(t, store.RecordSuccess(ctx, "dalle", 2*time.Second))
	require.NoError(t, store.RecordSuccess(ctx, "dalle", 4*time.Second))
	require.NoError(t, store.RecordFailure(ctx, "dalle"))

	stats, err := store.Get(ctx, "dalle")
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalRequests)
	require.Equal(t, int64(2), stats.SuccessCount)
	require.Equal(t, int64(1), stats.FailureCount)
	require.InDelta(t, 2.0/3.0, stats.SuccessRate(), 0.001)
	require.Equal(t, 3*time.Second, stats.AvgLatency)
}

func TestMemoryStatsStore_UnknownProviderIsNeutral(t *testing.T) {
	store := NewMemoryStatsStore()
	stats, err := store.Get(context.Background(), "never-seen")
	require.NoError(t, err)
	require.Zero(t, stats.TotalRequests)
	require.Equal(t, 1.0, stats.SuccessRate())
}

func TestMemoryStatsStore_LatencyWindowIsBounded(t *testing.T) {
	store := NewMemoryStatsStore(WithMemoryMaxLatencySamples(4))
	ctx := context.Background()

	// Older samples fall out of the window; only the last four (all 1s)
	// should contribute.
	for i := 0; i < 4; i++ {
		require.NoError(t, store.RecordSuccess(ctx, "sdxl", time.Minute))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, store.RecordSuccess(ctx, "sdxl", time.Second))
	}

	stats, err := store.Get(ctx, "sdxl")
	require.NoError(t, err)
	require.Equal(t, time.Second, stats.AvgLatency)
}

func newTestRedisStats(t *testing.T) selector.StatsStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStatsStore(client)
}

func TestRedisStatsStore_RecordAndGet(t *testing.T) {
	store := newTestRedisStats(t)
	ctx := context.Background()

	require.NoError(t, store.RecordSuccess(ctx, "firefly", 2*time.Second))
	require.NoError(t, store.RecordSuccess(ctx, "firefly", 6*time.Second))
	require.NoError(t, store.RecordFailure(ctx, "firefly"))

	stats, err := store.Get(ctx, "firefly")
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalRequests)
	require.Equal(t, int64(2), stats.SuccessCount)
	require.Equal(t, int64(1), stats.FailureCount)
	require.Equal(t, 4*time.Second, stats.AvgLatency)
}

func TestRedisStatsStore_UnknownProviderIsNeutral(t *testing.T) {
	store := newTestRedisStats(t)
	stats, err := store.Get(context.Background(), "never-seen")
	require.NoError(t, err)
	require.Zero(t, stats.TotalRequests)
	require.Equal(t, 1.0, stats.SuccessRate())
}

package selectors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imagemux/imagemux/pkg/selector"
)

// recordSuccessScript atomically bumps counters and appends to the rolling
// latency window for one provider.
//
// Keys:
//
//	KEYS[1] - counters hash
//	KEYS[2] - latency list
//
// Args:
//
//	ARGV[1] - latency in milliseconds
//	ARGV[2] - max latency samples
//	ARGV[3] - key TTL in seconds
const recordSuccessScript = `
redis.call('HINCRBY', KEYS[1], 'total_requests', 1)
redis.call('HINCRBY', KEYS[1], 'success_count', 1)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
redis.call('LPUSH', KEYS[2], ARGV[1])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[2]) - 1)
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[3]))
return 'OK'
`

// recordFailureScript atomically bumps the failure counters.
const recordFailureScript = `
redis.call('HINCRBY', KEYS[1], 'total_requests', 1)
redis.call('HINCRBY', KEYS[1], 'failure_count', 1)
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
return 'OK'
`

// RedisStatsStore shares provider statistics across gateway instances.
type RedisStatsStore struct {
	client     redis.UniversalClient
	prefix     string
	maxSamples int
	ttl        time.Duration

	successScript *redis.Script
	failureScript *redis.Script
}

// RedisStatsOption configures a RedisStatsStore.
type RedisStatsOption func(*RedisStatsStore)

// WithStatsKeyPrefix sets the key prefix (default "imagemux:selector:stats").
func WithStatsKeyPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = prefix }
}

// WithStatsTTL sets how long idle provider stats live (default 1h).
func WithStatsTTL(ttl time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = ttl }
}

// WithMaxLatencySamples sets the rolling latency window size (default 32).
func WithMaxLatencySamples(n int) RedisStatsOption {
	return func(s *RedisStatsStore) { s.maxSamples = n }
}

// NewRedisStatsStore creates a Redis-backed stats store.
func NewRedisStatsStore(client redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		client:        client,
		prefix:        "imagemux:selector:stats",
		maxSamples:    defaultMaxLatencySamples,
		ttl:           time.Hour,
		successScript: redis.NewScript(recordSuccessScript),
		failureScript: redis.NewScript(recordFailureScript),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements selector.StatsStore.
func (s *RedisStatsStore) Get(ctx context.Context, providerName string) (selector.Stats, error) {
	counters, err := s.client.HGetAll(ctx, s.countersKey(providerName)).Result()
	if err != nil {
		return selector.Stats{}, fmt.Errorf("stats get: %w", err)
	}

	stats := selector.Stats{
		TotalRequests: parseCounter(counters["total_requests"]),
		SuccessCount:  parseCounter(counters["success_count"]),
		FailureCount:  parseCounter(counters["failure_count"]),
	}

	latencies, err := s.client.LRange(ctx, s.latencyKey(providerName), 0, -1).Result()
	if err != nil {
		return selector.Stats{}, fmt.Errorf("stats get: %w", err)
	}
	if len(latencies) > 0 {
		var sumMs int64
		for _, raw := range latencies {
			sumMs += parseCounter(raw)
		}
		stats.AvgLatency = time.Duration(sumMs/int64(len(latencies))) * time.Millisecond
	}
	return stats, nil
}

// RecordSuccess implements selector.StatsStore.
func (s *RedisStatsStore) RecordSuccess(ctx context.Context, providerName string, latency time.Duration) error {
	keys := []string{s.countersKey(providerName), s.latencyKey(providerName)}
	return s.successScript.Run(ctx, s.client, keys,
		latency.Milliseconds(),
		s.maxSamples,
		int(s.ttl.Seconds()),
	).Err()
}

// RecordFailure implements selector.StatsStore.
func (s *RedisStatsStore) RecordFailure(ctx context.Context, providerName string) error {
	keys := []string{s.countersKey(providerName)}
	return s.failureScript.Run(ctx, s.client, keys, int(s.ttl.Seconds())).Err()
}

func (s *RedisStatsStore) countersKey(providerName string) string {
	return fmt.Sprintf("%s:%s:counters", s.prefix, providerName)
}

func (s *RedisStatsStore) latencyKey(providerName string) string {
	return fmt.Sprintf("%s:%s:latency", s.prefix, providerName)
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

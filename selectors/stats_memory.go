package selectors

import (
	"context"
	"sync"
	"time"

	"github.com/imagemux/imagemux/pkg/selector"
)

// defaultMaxLatencySamples bounds the rolling latency window per provider.
const defaultMaxLatencySamples = 32

// MemoryStatsStore tracks per-provider attempt outcomes in process memory.
type MemoryStatsStore struct {
	mu         sync.RWMutex
	entries    map[string]*statsEntry
	maxSamples int
}

type statsEntry struct {
	totalRequests  int64
	successCount   int64
	failureCount   int64
	latencyHistory []time.Duration
}

// MemoryStatsOption configures a MemoryStatsStore.
type MemoryStatsOption func(*MemoryStatsStore)

// WithMemoryMaxLatencySamples overrides the rolling latency window size.
func WithMemoryMaxLatencySamples(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		if n > 0 {
			s.maxSamples = n
		}
	}
}

// NewMemoryStatsStore creates an empty in-memory stats store.
func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		entries:    make(map[string]*statsEntry),
		maxSamples: defaultMaxLatencySamples,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements selector.StatsStore.
func (s *MemoryStatsStore) Get(_ context.Context, providerName string) (selector.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[providerName]
	if !ok {
		return selector.Stats{}, nil
	}

	stats := selector.Stats{
		TotalRequests: e.totalRequests,
		SuccessCount:  e.successCount,
		FailureCount:  e.failureCount,
	}
	if len(e.latencyHistory) > 0 {
		var sum time.Duration
		for _, l := range e.latencyHistory {
			sum += l
		}
		stats.AvgLatency = sum / time.Duration(len(e.latencyHistory))
	}
	return stats, nil
}

// RecordSuccess implements selector.StatsStore.
func (s *MemoryStatsStore) RecordSuccess(_ context.Context, providerName string, latency time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(providerName)
	e.totalRequests++
	e.successCount++
	e.latencyHistory = append(e.latencyHistory, latency)
	if len(e.latencyHistory) > s.maxSamples {
		e.latencyHistory = e.latencyHistory[len(e.latencyHistory)-s.maxSamples:]
	}
	return nil
}

// RecordFailure implements selector.StatsStore.
func (s *MemoryStatsStore) RecordFailure(_ context.Context, providerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(providerName)
	e.totalRequests++
	e.failureCount++
	return nil
}

func (s *MemoryStatsStore) entry(providerName string) *statsEntry {
	e, ok := s.entries[providerName]
	if !ok {
		e = &statsEntry{}
		s.entries[providerName] = e
	}
	return e
}

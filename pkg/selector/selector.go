// Package selector defines the public contract for provider ranking. The
// weighted implementation lives in the top-level selectors package.
package selector

import (
	"context"
	"errors"
	"time"

	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/types"
)

// ErrNoEligibleCandidate is returned when no candidate survives hard
// filtering. It must propagate to the orchestrator before any budget action.
var ErrNoEligibleCandidate = errors.New("no eligible candidate for request")

// Weights combines the four sub-scores. They must sum to 1.0.
type Weights struct {
	Quality     float64 `json:"quality" yaml:"quality"`
	Cost        float64 `json:"cost" yaml:"cost"`
	Reliability float64 `json:"reliability" yaml:"reliability"`
	Speed       float64 `json:"speed" yaml:"speed"`
}

// DefaultWeights is the balanced weighting used when a department has no
// explicit preference.
func DefaultWeights() Weights {
	return Weights{Quality: 0.25, Cost: 0.25, Reliability: 0.25, Speed: 0.25}
}

// Valid reports whether the weights are non-negative and sum to 1.0 within a
// small tolerance.
func (w Weights) Valid() bool {
	if w.Quality < 0 || w.Cost < 0 || w.Reliability < 0 || w.Speed < 0 {
		return false
	}
	sum := w.Quality + w.Cost + w.Reliability + w.Speed
	return sum > 0.999 && sum < 1.001
}

// Selector ranks eligible candidates for a request, best first. The full
// ranked list is the fallback order, not just the top pick. Implementations
// must be deterministic for identical inputs.
type Selector interface {
	Select(ctx context.Context, req *types.GenerationRequest, candidates []provider.Candidate, prefs Weights) ([]provider.Candidate, error)
}

// Stats is a snapshot of a provider's recent behavior, externally supplied.
type Stats struct {
	TotalRequests int64
	SuccessCount  int64
	FailureCount  int64
	AvgLatency    time.Duration
}

// SuccessRate returns the rolling success ratio in [0,1]. Providers without
// history default to 1 so new candidates are not starved.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 1
	}
	return float64(s.SuccessCount) / float64(s.TotalRequests)
}

// StatsStore supplies rolling reliability and latency observations and
// receives attempt outcomes from the orchestrator.
type StatsStore interface {
	// Get returns the current snapshot for a provider.
	Get(ctx context.Context, provider string) (Stats, error)

	// RecordSuccess records a successful attempt and its latency.
	RecordSuccess(ctx context.Context, provider string, latency time.Duration) error

	// RecordFailure records a failed attempt.
	RecordFailure(ctx context.Context, provider string) error
}

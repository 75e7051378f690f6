// Package selectors provides the weighted provider selector and the stats
// stores that feed its reliability and speed sub-scores.
package selectors

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/imagemux/imagemux/pkg/provider"
	"github.com/imagemux/imagemux/pkg/selector"
	"github.com/imagemux/imagemux/pkg/types"
)

// WeightedSelector ranks candidates by a weighted combination of quality,
// cost, reliability, and speed sub-scores, each in [0,100]. Ranking is
// deterministic: ties break by lowest cost, then by provider ID.
type WeightedSelector struct {
	stats  selector.StatsStore
	logger *slog.Logger
}

// Option configures a WeightedSelector.
type Option func(*WeightedSelector)

// WithLogger sets the selector logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *WeightedSelector) { s.logger = logger }
}

// NewWeightedSelector creates a selector backed by the given stats store.
// A nil store disables the reliability and speed signals (both score 100).
func NewWeightedSelector(stats selector.StatsStore, opts ...Option) *WeightedSelector {
	s := &WeightedSelector{
		stats:  stats,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scoredCandidate struct {
	candidate provider.Candidate
	score     float64
}

// Select implements selector.Selector.
func (s *WeightedSelector) Select(ctx context.Context, req *types.GenerationRequest, candidates []provider.Candidate, prefs selector.Weights) ([]provider.Candidate, error) {
	eligible := s.filter(req, candidates)
	if len(eligible) == 0 {
		return nil, selector.ErrNoEligibleCandidate
	}

	if !prefs.Valid() {
		prefs = selector.DefaultWeights()
	}

	costScores := inverseNormalizedCosts(eligible)
	speedScores, reliability := s.observedScores(ctx, eligible)

	scored := make([]scoredCandidate, len(eligible))
	for i, c := range eligible {
		quality := clampScore(c.QualityScore)
		combined := prefs.Quality*quality +
			prefs.Cost*costScores[i] +
			prefs.Reliability*reliability[i] +
			prefs.Speed*speedScores[i]
		scored[i] = scoredCandidate{candidate: c, score: combined}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		costCmp := scored[i].candidate.CostPerImage.Cmp(scored[j].candidate.CostPerImage)
		if costCmp != 0 {
			return costCmp < 0
		}
		return scored[i].candidate.Provider < scored[j].candidate.Provider
	})

	ranked := make([]provider.Candidate, len(scored))
	for i, sc := range scored {
		ranked[i] = sc.candidate
	}

	s.logger.Debug("candidates ranked",
		"request_id", req.ID,
		"eligible", len(ranked),
		"top", ranked[0].Provider,
	)
	return ranked, nil
}

// filter applies the hard eligibility criteria.
func (s *WeightedSelector) filter(req *types.GenerationRequest, candidates []provider.Candidate) []provider.Candidate {
	needed := req.Size.MaxDimension()

	var eligible []provider.Candidate
	for _, c := range candidates {
		if !c.Enabled {
			continue
		}
		if req.Provider != "" && c.Provider != req.Provider {
			continue
		}
		if needed > 0 && c.MaxResolution > 0 && c.MaxResolution < needed {
			continue
		}
		if req.CommercialUse && !c.CommercialUse {
			continue
		}
		if req.MaxCost.IsPositive() && c.EstimateCost(req.ImageCount).GreaterThan(req.MaxCost) {
			continue
		}
		eligible = append(eligible, c)
	}
	return eligible
}

// inverseNormalizedCosts maps per-image costs onto [0,100] with the cheapest
// eligible candidate at 100 and the most expensive at 0.
func inverseNormalizedCosts(eligible []provider.Candidate) []float64 {
	minCost := eligible[0].CostPerImage.InexactFloat64()
	maxCost := minCost
	for _, c := range eligible[1:] {
		v := c.CostPerImage.InexactFloat64()
		if v < minCost {
			minCost = v
		}
		if v > maxCost {
			maxCost = v
		}
	}

	scores := make([]float64, len(eligible))
	span := maxCost - minCost
	for i, c := range eligible {
		if span <= 0 {
			scores[i] = 100
			continue
		}
		scores[i] = (maxCost - c.CostPerImage.InexactFloat64()) / span * 100
	}
	return scores
}

// observedScores fetches rolling stats and converts them into speed and
// reliability sub-scores. Providers without history score 100 on both so new
// candidates are not starved.
func (s *WeightedSelector) observedScores(ctx context.Context, eligible []provider.Candidate) (speed, reliability []float64) {
	speed = make([]float64, len(eligible))
	reliability = make([]float64, len(eligible))

	latencies := make([]time.Duration, len(eligible))
	var minLat, maxLat time.Duration
	for i, c := range eligible {
		speed[i] = 100
		reliability[i] = 100
		if s.stats == nil {
			continue
		}
		st, err := s.stats.Get(ctx, c.Provider)
		if err != nil {
			s.logger.Warn("stats lookup failed, scoring neutrally", "provider", c.Provider, "error", err)
			continue
		}
		reliability[i] = clampScore(st.SuccessRate() * 100)
		latencies[i] = st.AvgLatency
		if st.AvgLatency > 0 {
			if minLat == 0 || st.AvgLatency < minLat {
				minLat = st.AvgLatency
			}
			if st.AvgLatency > maxLat {
				maxLat = st.AvgLatency
			}
		}
	}

	span := maxLat - minLat
	for i, lat := range latencies {
		if lat <= 0 {
			continue // no observations, keep the neutral 100
		}
		if span <= 0 {
			speed[i] = 100
			continue
		}
		speed[i] = float64(maxLat-lat) / float64(span) * 100
	}
	return speed, reliability
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

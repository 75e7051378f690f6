// Package metrics provides Prometheus metrics for the image generation
// gateway. It tracks request outcomes, provider attempt latencies,
// budget activity, and validation verdicts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "imagemux"

// LatencyBuckets defines histogram buckets for provider latencies (in
// seconds). Image generation runs seconds to tens of seconds.
var LatencyBuckets = []float64{
	0.5, 1.0, 2.0, 3.0, 5.0, 7.5, 10.0, 15.0,
	20.0, 30.0, 45.0, 60.0, 90.0, 120.0, 180.0, 300.0,
}

var (
	// GenerationsTotal counts generation requests by terminal status.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of generation requests by terminal status",
		},
		[]string{"provider", "status"},
	)

	// AttemptsTotal counts individual provider attempts by outcome.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Total number of provider attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// AttemptLatency tracks provider call latency per attempt.
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_latency_seconds",
			Help:      "Provider attempt latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider"},
	)

	// FallbacksTotal counts fallbacks from one provider to the next.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of provider fallbacks",
		},
		[]string{"from_provider", "to_provider"},
	)

	// ValidationVerdicts counts prompt validation verdicts.
	ValidationVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_verdicts_total",
			Help:      "Total number of prompt validation verdicts",
		},
		[]string{"verdict"},
	)

	// BudgetReservations counts reservation outcomes per department.
	BudgetReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_reservations_total",
			Help:      "Total number of budget reservation attempts",
		},
		[]string{"department", "outcome"},
	)

	// CommittedSpend accumulates committed spend per department and
	// provider, in currency units.
	CommittedSpend = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_spend_total",
			Help:      "Committed spend per department and provider",
		},
		[]string{"department", "provider"},
	)

	// BudgetRemaining exposes the remaining allowance per department
	// for the current period.
	BudgetRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_remaining",
			Help:      "Remaining budget allowance per department",
		},
		[]string{"department"},
	)

	// RequestsInFlight gauges concurrently processing requests.
	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Number of generation requests currently processing",
		},
	)
)

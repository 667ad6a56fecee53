package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		settlementRequests,
		settlementDuration,
		settlementAmountMismatch,
	)
}

var (
	// source: webhook|verify
	// outcome: settled|already_settled|not_paid|unresolved|closed|transient_failure|bad_signature|ignored
	settlementRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_requests_total",
			Help:      "Settlement attempts by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Duration of a settlement attempt in seconds.",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"source"},
	)

	settlementAmountMismatch = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_amount_mismatch_total",
			Help:      "Paid sessions whose amount or currency disagreed with the plan.",
		},
	)
)

func IncSettlement(source, outcome string) {
	settlementRequests.WithLabelValues(norm(source), norm(outcome)).Inc()
}

func ObserveSettlement(source string, started time.Time) {
	settlementDuration.WithLabelValues(norm(source)).Observe(time.Since(started).Seconds())
}

func IncAmountMismatch() {
	settlementAmountMismatch.Inc()
}

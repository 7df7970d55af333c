package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
}

var (
	// SearchDuration tracks the latency of viewer match requests
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adledger_search_duration_seconds",
			Help:    "Duration of search requests in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"status"}, // served, not_found, failed
	)

	// SettlementDuration tracks the latency of money-moving operations
	SettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adledger_settlement_duration_seconds",
			Help:    "Duration of settlement requests in seconds",
			Buckets: latencyBuckets,
		},
		[]string{"operation", "status"},
	)

	// SearchOutcomes counts how search requests were resolved
	SearchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adledger_search_outcomes_total",
			Help: "Search requests by tag resolution outcome",
		},
		[]string{"outcome"}, // exact, similar, no_tag, exhausted
	)

	// CandidateSkips counts candidates rejected inside the locked commit
	CandidateSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adledger_candidate_skips_total",
			Help: "Order candidates skipped during allocation by reason",
		},
		[]string{"reason"}, // conflict, viewer_cap, lock_timeout
	)

	// OrdersCompleted counts orders whose pool reached zero
	OrdersCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adledger_orders_completed_total",
			Help: "Orders completed by exhausting their impression pool",
		},
	)

	// RefundedAmount sums refunds paid on cancellation
	RefundedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adledger_refunded_amount_total",
			Help: "Total amount refunded by order cancellation",
		},
	)
)

// RecordSearchDuration records the duration of a search request
func RecordSearchDuration(status string, duration float64) {
	SearchDuration.WithLabelValues(status).Observe(duration)
}

// RecordSettlementDuration records the duration of a settlement request
func RecordSettlementDuration(operation, status string, duration float64) {
	SettlementDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordSearchOutcome counts a resolved search
func RecordSearchOutcome(outcome string) {
	SearchOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCandidateSkip counts a rejected candidate
func RecordCandidateSkip(reason string) {
	CandidateSkips.WithLabelValues(reason).Inc()
}

// RecordOrderCompleted counts an order that ran out of views
func RecordOrderCompleted() {
	OrdersCompleted.Inc()
}

// RecordRefund adds a refund to the running total
func RecordRefund(amount float64) {
	RefundedAmount.Add(amount)
}

package metrics

import (
	"ledgersystem/internal/infrastructure/breaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PostingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_posting_total",
		Help: "Journal postings by result.",
	}, []string{"result"})

	PostingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_posting_duration_seconds",
		Help:    "Latency of the posting unit of work.",
		Buckets: prometheus.DefBuckets,
	})

	IdempotencyOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_idempotency_outcome_total",
		Help: "Idempotency check outcomes.",
	}, []string{"outcome"})

	IdempotencyCacheFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_idempotency_cache_fallback_total",
		Help: "Idempotency checks served from the durable store because the cache was unavailable.",
	})

	OutboxPublishSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_outbox_publish_success_total",
		Help: "Outbox events delivered to the broker.",
	})

	OutboxPublishFailure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_outbox_publish_failure_total",
		Help: "Outbox delivery attempts that failed.",
	})

	OutboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_outbox_unpublished_backlog",
		Help: "Number of unpublished outbox events.",
	})

	OutboxOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_outbox_oldest_unpublished_age_seconds",
		Help: "Age of the oldest unpublished outbox event.",
	})

	OutboxRetryStreak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_outbox_retry_streak",
		Help: "Consecutive failed outbox delivery attempts.",
	})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_circuit_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
	}, []string{"name"})

	IntegrityEquationDelta = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_integrity_equation_delta",
		Help: "Accounting equation delta per tenant; non-zero means drift.",
	}, []string{"tenant"})

	IntegrityChainBroken = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_integrity_chain_broken",
		Help: "1 when the tenant hash chain failed verification.",
	}, []string{"tenant"})
)

// ObserveBreaker 熔断器状态变化时更新指标
func ObserveBreaker(name string, _, to breaker.State) {
	var v float64
	switch to {
	case breaker.StateHalfOpen:
		v = 1
	case breaker.StateOpen:
		v = 2
	}
	BreakerState.WithLabelValues(name).Set(v)
}

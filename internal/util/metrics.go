package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_started_total",
		Help: "Total number of purchase sagas started",
	}, []string{"kind"})

	PurchasesCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_completed_total",
		Help: "Total number of purchase sagas that passed the provider call",
	}, []string{"kind"})

	PurchasesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_failed_total",
		Help: "Total number of purchase sagas aborted before the provider call committed",
	}, []string{"kind", "step"})

	SagaPartialFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_partial_failures_total",
		Help: "Best-effort saga steps that failed after a successful charge",
	}, []string{"kind", "step"})

	SagaStepLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saga_step_latency_seconds",
		Help:    "Latency of individual saga steps",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "step"})

	SubscriptionsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subscriptions_cancelled_total",
		Help: "Subscriptions deactivated locally",
	}, []string{"mode"})

	ProviderCancellationFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provider_cancellation_failed_total",
		Help: "Provider-side subscription cancellations that failed",
	})

	RetryEventsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_events_processed_total",
		Help: "Deferred saga steps replayed by workers",
	}, []string{"step", "result"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	CircuitBreakerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_calls_total",
		Help: "Guarded calls by outcome",
	}, []string{"name", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

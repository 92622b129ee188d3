// Package metrics provides Prometheus instrumentation for the adapter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lightrag_gemini"

// OtherModel is the model label of calls to models outside the configured set.
const OtherModel = "other"

var (
	// RequestLatency tracks end-to-end call latency, backoff waits included.
	// Model labels come from a fixed set; see OtherModel.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "End-to-end adapter call latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation", "model", "status"},
	)

	// RequestsTotal tracks finished calls by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of adapter calls by status.",
		},
		[]string{"operation", "status"}, // status: success, rate_limited, malformed, error
	)

	// RateLimitRetriesTotal counts backoff waits triggered by rate limiting.
	RateLimitRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_retries_total",
			Help:      "Total number of retries caused by provider rate limiting.",
		},
		[]string{"operation"},
	)

	// BackoffWaitSeconds tracks the length of each backoff wait.
	BackoffWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_wait_seconds",
			Help:      "Backoff wait before a retried attempt, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		},
		[]string{"operation"},
	)

	// UnrecognizedParamsTotal counts caller parameters dropped as unknown.
	// Names are caller-chosen, so they only appear in the warning log.
	UnrecognizedParamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unrecognized_params_total",
			Help:      "Total number of unknown parameters dropped before a provider call.",
		},
		[]string{"operation"},
	)

	// TokenUsageTotal tracks tokens reported by the provider.
	TokenUsageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_usage_total",
			Help:      "Total number of tokens consumed.",
		},
		[]string{"model", "direction"}, // direction: "input" or "output"
	)

	// CircuitBreakerState tracks the provider circuit breaker.
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state: 0=closed, 1=open, 2=half-open.",
		},
	)

	// ActiveRequests tracks the number of in-flight adapter calls.
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight adapter calls.",
		},
		[]string{"operation"},
	)
)

// ObserveRequest records the outcome and latency of one finished call.
func ObserveRequest(operation, model, status string, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(operation, status).Inc()
	RequestLatency.WithLabelValues(operation, model, status).Observe(elapsed.Seconds())
}

// ObserveBackoff records one backoff wait.
func ObserveBackoff(operation string, wait time.Duration) {
	RateLimitRetriesTotal.WithLabelValues(operation).Inc()
	BackoffWaitSeconds.WithLabelValues(operation).Observe(wait.Seconds())
}

// ObserveUnrecognizedParam records one dropped unknown parameter.
func ObserveUnrecognizedParam(operation string) {
	UnrecognizedParamsTotal.WithLabelValues(operation).Inc()
}

// ObserveTokens records provider-reported token usage.
func ObserveTokens(model string, input, output int32) {
	if input > 0 {
		TokenUsageTotal.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		TokenUsageTotal.WithLabelValues(model, "output").Add(float64(output))
	}
}

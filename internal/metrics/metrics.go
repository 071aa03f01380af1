// Package metrics holds the Prometheus collectors for toolhub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolhub_server_connects_total",
			Help: "Server connection attempts by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	sessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolhub_sessions",
			Help: "Registered sessions by transport",
		},
		[]string{"transport"},
	)

	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolhub_tool_calls_total",
			Help: "Tool invocations by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolhub_tool_call_duration_seconds",
			Help:    "Tool invocation latency by transport",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	catalogFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolhub_catalog_fetch_failures_total",
			Help: "Tool list fetches that failed during aggregation, by transport",
		},
		[]string{"transport"},
	)

	bridgeFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolhub_bridge_fallbacks_total",
			Help: "Bridge operations answered with synthetic data, by operation and reason",
		},
		[]string{"operation", "reason"},
	)
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"
)

// RecordConnect counts a connection attempt.
func RecordConnect(transport, outcome string) {
	connectAttempts.WithLabelValues(transport, outcome).Inc()
}

// SessionAdded increments the session gauge.
func SessionAdded(transport string) {
	sessions.WithLabelValues(transport).Inc()
}

// SessionRemoved decrements the session gauge.
func SessionRemoved(transport string) {
	sessions.WithLabelValues(transport).Dec()
}

// RecordToolCall counts a tool call and observes its latency.
func RecordToolCall(transport, outcome string, d time.Duration) {
	toolCalls.WithLabelValues(transport, outcome).Inc()
	toolCallDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// RecordCatalogFailure counts a tool list fetch that was dropped from an aggregate.
func RecordCatalogFailure(transport string) {
	catalogFailures.WithLabelValues(transport).Inc()
}

// RecordBridgeFallback counts a synthetic bridge answer.
// reason is "unhealthy" when the bridge was skipped or "request_failed".
func RecordBridgeFallback(operation, reason string) {
	bridgeFallbacks.WithLabelValues(operation, reason).Inc()
}

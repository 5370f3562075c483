// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_requests_total",
			Help: "Total number of routed chat requests by resolved intent",
		},
		[]string{"intent"},
	)

	TierAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_tier_attempts_total",
			Help: "Tier attempts by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_api_retries_total",
			Help: "Tracking system calls retried after a transient failure",
		},
		[]string{"operation", "kind"},
	)

	FallbackResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_fallback_responses_total",
			Help: "Responses produced by the template fallback",
		},
		[]string{"reason"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbot_request_duration_seconds",
			Help:    "Duration of chat request routing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"intent"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbot_active_sessions",
			Help: "Number of conversation sessions held in memory",
		},
	)
)

package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_requests_total",
		Help: "Routed calls by endpoint, provider, operation and result code.",
	}, []string{"endpoint", "provider", "operation", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aigateway_request_duration_seconds",
		Help:    "Time to complete a buffered call or to open a stream, retries included.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider", "operation"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_retries_total",
		Help: "Upstream calls retried after an unavailable or timeout failure.",
	}, []string{"provider", "code"})

	translationWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_translation_warnings_total",
		Help: "Options dropped because the target provider has no equivalent.",
	}, []string{"provider", "option"})

	rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_rate_limited_total",
		Help: "Calls refused by an endpoint rate limit.",
	}, []string{"endpoint"})
)

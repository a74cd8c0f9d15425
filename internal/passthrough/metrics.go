package passthrough

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aigateway_passthrough_requests_total",
		Help: "Passthrough calls by provider and upstream status or gateway error code.",
	}, []string{"provider", "status"})

	forwardDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aigateway_passthrough_duration_seconds",
		Help:    "Time until the provider's response headers arrived.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

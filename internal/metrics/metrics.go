package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satreport_provider_requests_total",
			Help: "Total billable provider requests",
		},
		[]string{"operation", "status"},
	)

	ProviderRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satreport_provider_request_latency_seconds",
			Help:    "Provider request latency in seconds, polling included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "satreport_cache_hits_total",
			Help: "Acquisitions served from the provider response cache",
		},
	)

	NarrativeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "satreport_narrative_failures_total",
			Help: "Narrative generations that fell back to deterministic text",
		},
	)

	ReportsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satreport_reports_generated_total",
			Help: "PDF reports composed",
		},
		[]string{"template"},
	)
)

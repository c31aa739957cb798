// Package observability holds the Prometheus collectors shared by the
// services and HTTP middleware. They register on the default registry and
// are served from /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridebroker"

var (
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "searches_total", Help: "Ride searches by temporal mode"},
		[]string{"mode"},
	)
	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_results",
		Help:      "Number of rides returned per search",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})
	SearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_latency_seconds",
		Help:      "Search latency seconds, including the candidate fetch",
		Buckets:   prometheus.DefBuckets,
	})
	SearchCacheHits = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "search_cache_hits_total", Help: "Searches answered from the Redis cache"})

	RidesMaterialized = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_materialized_total", Help: "Ride instances created from patterns"})

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "lifecycle_transitions_total", Help: "Lifecycle state changes persisted by the sweep"},
		[]string{"kind", "to"},
	)
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one lifecycle sweep",
		Buckets:   prometheus.DefBuckets,
	})
	SweepErrors        = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sweep_errors_total", Help: "Failed lifecycle sweeps"})
	EventPublishErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "event_publish_errors_total", Help: "Transition events that could not be published"})

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_total", Help: "Booking attempts by outcome"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

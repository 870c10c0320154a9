// Package metrics defines the Prometheus collectors for the marketplace
// core. A single Metrics value is built at startup and shared by the cache,
// composer, provider, and sync components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketplace"

// Metrics holds every collector the core emits.
type Metrics struct {
	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheErrors        prometheus.Counter
	Invalidations      prometheus.Counter
	BucketCount        prometheus.Gauge
	SyncAttempts       prometheus.Counter
	SyncFailures       prometheus.Counter
	FillDropped        prometheus.Counter
	BreakerTransitions *prometheus.CounterVec
	UpstreamLatency    prometheus.Histogram
}

// New registers and returns the collector set on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Month-bucket cache queries answered fully or partially from cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Month-bucket cache queries answered from the durable store.",
		}),
		CacheErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache transport or decode failures that triggered a fallback.",
		}),
		Invalidations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Month buckets deleted by sync invalidation.",
		}),
		BucketCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bucket_count",
			Help:      "Approximate number of live month buckets.",
		}),
		SyncAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Sync pipeline runs, including no-ops.",
		}),
		SyncFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failures_total",
			Help:      "Sync pipeline runs that failed at any stage.",
		}),
		FillDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fill_dropped_total",
			Help:      "Async cache fills dropped because the queue was full.",
		}),
		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by target state.",
		}, []string{"from", "to"}),
		UpstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Latency of upstream provider fetches, successful or not.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// NewNop returns a collector set registered on a throwaway registry, for
// tests and callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Package metrics exposes Prometheus instrumentation for the registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ResolveTotal counts module resolutions by outcome.
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cora",
		Subsystem: "registry",
		Name:      "resolve_total",
		Help:      "Module resolutions, labelled by outcome (ok, not_found, error).",
	}, []string{"outcome"})

	// ResolveDuration tracks how long a full cascade resolution takes.
	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cora",
		Subsystem: "registry",
		Name:      "resolve_duration_seconds",
		Help:      "Latency of module cascade resolutions.",
		Buckets:   prometheus.DefBuckets,
	})

	// CacheHits counts resolutions served from the decision cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cora",
		Subsystem: "registry",
		Name:      "cache_hits_total",
		Help:      "Resolutions served from the decision cache.",
	})

	// CacheMisses counts resolutions that fell through to the store.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cora",
		Subsystem: "registry",
		Name:      "cache_misses_total",
		Help:      "Resolutions that fell through to the store.",
	})

	// CacheInvalidations counts cache entries dropped per override tier.
	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cora",
		Subsystem: "registry",
		Name:      "cache_invalidations_total",
		Help:      "Cache entries dropped after override writes, labelled by tier.",
	}, []string{"tier"})

	// OverrideWrites counts accepted override writes per tier.
	OverrideWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cora",
		Subsystem: "registry",
		Name:      "override_writes_total",
		Help:      "Accepted override writes, labelled by tier.",
	}, []string{"tier"})

	// CascadeViolations counts enable writes rejected by an ancestor tier.
	CascadeViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cora",
		Subsystem: "registry",
		Name:      "cascade_violations_total",
		Help:      "Enable writes rejected because a higher tier disables the module.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package metrics holds Prometheus instruments that are used across the
// platform.  All collectors are registered with the global registry, so
// importing this package in cmd/server is enough to expose them on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActivePools = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenant_pools_active",
			Help: "Number of tenant connection pools currently open.",
		})

	PoolOpensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_pool_opens_total",
			Help: "Cumulative number of tenant pools opened.",
		})

	PoolClosesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_pool_closes_total",
			Help: "Cumulative number of tenant pools closed.",
		})

	PoolReapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_pool_reaps_total",
			Help: "Cumulative number of idle tenant pools reaped.",
		})

	ConfigCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_config_cache_hits_total",
			Help: "Descriptor cache hits.",
		})

	ConfigCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_config_cache_misses_total",
			Help: "Descriptor cache misses (disk loads).",
		})

	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_resolutions_total",
			Help: "Tenant resolutions partitioned by strategy.",
		}, []string{"method"})

	RateLimitRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the fixed-window rate limiter.",
		})
)

func init() {
	prometheus.MustRegister(
		ActivePools,
		PoolOpensTotal,
		PoolClosesTotal,
		PoolReapsTotal,
		ConfigCacheHits,
		ConfigCacheMisses,
		ResolutionsTotal,
		RateLimitRejections,
	)
}

package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer ("redis", "memory")
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_property_cache_hits_total",
			Help: "Total number of property list cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_property_cache_misses_total",
			Help: "Total number of property list cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_property_cache_errors_total",
			Help: "Total number of property cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)

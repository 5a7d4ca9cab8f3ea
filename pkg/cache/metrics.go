package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks hits by tier (memory, session, durable).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_cache_hits_total",
			Help: "Total number of cache hits by tier",
		},
		[]string{"tier"},
	)

	// CacheMisses tracks full misses across all tiers.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recipe_cache_misses_total",
			Help: "Total number of cache misses across all tiers",
		},
	)

	// CacheErrors tracks outer-tier operation errors, including quota
	// rejections the cache degrades around.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "remove"
	)

	// MemoryEntries tracks the current in-process tier entry count.
	MemoryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recipe_cache_memory_entries",
			Help: "Current number of entries in the in-process tier",
		},
	)
)

// Package metrics provides the centralized Prometheus metrics registry for
// the upstream client. All metrics are defined in their respective packages
// (client, cache, keypool, persist) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the upstream client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Key Pool Metrics (pkg/keypool):
//   - recipe_api_key_rotations_total (Counter): Rotations to a different API key
//   - recipe_api_key_exhausted_total (Counter): Keys marked exhausted after a quota response
//   - recipe_api_pool_resets_total (Counter): Full pool resets after total exhaustion
//   - recipe_api_keys_available (Gauge): Keys currently usable in the pool
//
// Cache Metrics (pkg/cache):
//   - recipe_cache_hits_total{tier} (Counter): Cache hits by tier (memory, session, durable)
//   - recipe_cache_misses_total (Counter): Cache misses across all tiers
//   - recipe_cache_errors_total{operation} (Counter): Cache operation errors
//   - recipe_cache_memory_entries (Gauge): Entries held in the in-process tier
//
// Persistence Metrics (pkg/persist):
//   - recipe_cache_persist_runs_total{outcome} (Counter): Snapshot runs by outcome (ok, partial, failed)
//   - recipe_cache_persist_bytes (Gauge): Size of the last written snapshot
//   - recipe_cache_persist_evicted_total (Counter): Entries evicted under the storage ceiling
//
// Request Metrics (pkg/client):
//   - recipe_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - recipe_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - recipe_errors_total{class} (Counter): Errors by class (quota, upstream, decode, network)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(recipe_cache_hits_total[5m])) /
//   (sum(rate(recipe_cache_hits_total[5m])) + sum(rate(recipe_cache_misses_total[5m])))
//
//   # Pool Health
//   recipe_api_keys_available == 0
//
//   # Request Error Rate
//   rate(recipe_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(recipe_request_duration_seconds_bucket[5m]))
//
//   # Snapshot Eviction Pressure
//   rate(recipe_cache_persist_evicted_total[5m])

// Package cache implements the tiered result cache for upstream recipe data.
//
// Three tiers with distinct lifetimes:
//
//   - in-process: a memoized map with no TTL, fresh until invalidated
//   - session: a kv.Store with an hours-order TTL
//   - durable: a kv.Store with a days-order TTL and a byte quota
//
// The tiers are independent stores, not a single source of truth; read order
// defines authority. A hit in the session or durable tier is promoted into
// the in-process tier so subsequent reads in the same process are O(1).
//
// # Basic Usage
//
//	tiered := cache.NewTiered(cache.Config{
//		Session: sessionStore,
//		Durable: durableStore,
//	})
//
//	key := cache.SearchKey("Pasta ", 1, nil).String()
//
//	payload, err := tiered.Get(ctx, key)
//	if err == cache.ErrMiss {
//		// full miss - fetch from the upstream API
//	}
//
//	tiered.Put(ctx, key, payload)
//
// # Speculative Data
//
// Results fetched while a filter change is in flight are not safely
// reusable for the unfiltered key. Write them with PutEphemeral so they
// stay in the in-process tier and are never mirrored or persisted.
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - recipe_cache_hits_total{tier} - hits by tier
//   - recipe_cache_misses_total - full misses
//   - recipe_cache_errors_total{operation} - outer-tier operation errors
//   - recipe_cache_memory_entries - current in-process entry count
package cache

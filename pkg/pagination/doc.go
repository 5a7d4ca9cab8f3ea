// Package pagination provides parallel prefetching of multi-page search results.
//
// The upstream API reports totalResults in each search response, which the
// client converts into a total page count. This package implements a worker
// pool pattern to fetch all remaining pages while keeping concurrency low
// enough not to burn through daily key quota.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	prefetcher := pagination.NewPrefetcher(fetcher, config)
//	results, err := prefetcher.FetchAllPages(ctx, "pasta", nil)
//
// The prefetcher:
//   - Fetches the first page to determine total pages
//   - Spawns a worker pool (default 4 workers)
//   - Distributes remaining pages across workers
//   - Handles errors gracefully (returns partial data)
//
// Pages fetched this way flow through the normal cache tiers, so a prefetch
// warms the cache for subsequent page navigation.
package pagination

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/recipely/upstream-client/pkg/cache"
	"github.com/recipely/upstream-client/pkg/keypool"
)

// SearchQuery describes a recipe search request.
type SearchQuery struct {
	// Term is the free-text search term. Case and surrounding whitespace
	// do not affect caching.
	Term string

	// Page is the 1-based result page.
	Page int

	// Filters are optional refinement parameters (diet, cuisine, ...).
	Filters map[string]string

	// Speculative marks a request issued while a filter change is still in
	// flight. Its result is cached in-process only, since it is not safely
	// reusable for the settled key.
	Speculative bool
}

// SearchRecipes returns search results for the query, consulting the cache
// tiers before going upstream and writing successful results back through
// them.
func (f *Fetcher) SearchRecipes(ctx context.Context, q SearchQuery) (json.RawMessage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	key := cache.SearchKey(q.Term, q.Page, q.Filters).String()

	if f.cache != nil {
		if payload, err := f.cache.Get(ctx, key); err == nil {
			return payload, nil
		}
	}

	params := url.Values{
		"query":  {cache.Normalize(q.Term)},
		"number": {strconv.Itoa(pageSize)},
		"offset": {strconv.Itoa((q.Page - 1) * pageSize)},
	}
	for name, value := range q.Filters {
		params.Set(name, value)
	}

	payload, err := f.Fetch(ctx, "/recipes/complexSearch", params)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if q.Speculative {
			f.cache.PutEphemeral(key, payload)
		} else {
			f.cache.Put(ctx, key, payload)
		}
	}
	return payload, nil
}

// GetRecipe returns full information for a single recipe id, cached like
// search results.
func (f *Fetcher) GetRecipe(ctx context.Context, id int64) (json.RawMessage, error) {
	key := cache.RecipeKey(id).String()

	if f.cache != nil {
		if payload, err := f.cache.Get(ctx, key); err == nil {
			return payload, nil
		}
	}

	payload, err := f.Fetch(ctx, fmt.Sprintf("/recipes/%d/information", id), nil)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.Put(ctx, key, payload)
	}
	return payload, nil
}

// SearchPage fetches a single search result page and reports the total page
// count derived from the upstream totalResults field. It satisfies the page
// fetcher contract of the pagination package.
func (f *Fetcher) SearchPage(ctx context.Context, term string, filters map[string]string, page int) ([]byte, int, error) {
	payload, err := f.SearchRecipes(ctx, SearchQuery{Term: term, Page: page, Filters: filters})
	if err != nil {
		return nil, 0, err
	}

	var meta struct {
		TotalResults int `json:"totalResults"`
	}
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, 0, fmt.Errorf("failed to read total results: %w", err)
	}

	totalPages := (meta.TotalResults + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return payload, totalPages, nil
}

// Diagnostics reports per-key usage and which cache tier satisfied the
// most recent reads, for the operational status page.
type Diagnostics struct {
	Keys        []keypool.KeyStatus `json:"keys"`
	RecentReads []cache.ReadRecord  `json:"recent_reads"`
}

// Diagnostics returns a point-in-time diagnostics snapshot.
func (f *Fetcher) Diagnostics() Diagnostics {
	d := Diagnostics{Keys: f.pool.Snapshot()}
	if f.cache != nil {
		d.RecentReads = f.cache.Reads()
	}
	return d
}

package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds prefetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests. Keep this
	// modest: every upstream request consumes daily key quota.
	MaxConcurrency int
	// Timeout per page fetch.
	Timeout time.Duration
	// BufferSize is the channel buffer size (default: estimated total pages).
	BufferSize int
}

// DefaultConfig returns safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        10 * time.Second,
		BufferSize:     64,
	}
}

// PageFetcher is the interface the client must implement for single-page fetching.
type PageFetcher interface {
	// SearchPage fetches a single search result page and returns data + total page count.
	SearchPage(ctx context.Context, term string, filters map[string]string, page int) (data []byte, totalPages int, err error)
}

// PageResult represents the result of fetching a single page.
type PageResult struct {
	PageNumber int
	Data       []byte
	Error      error
}

// Prefetcher handles parallel fetching of multiple search result pages.
type Prefetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewPrefetcher creates a new prefetcher.
func NewPrefetcher(fetcher PageFetcher, config Config) *Prefetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}

	return &Prefetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAllPages fetches all result pages for a search term in parallel using
// a worker pool. Returns a map of pageNumber -> data for successful pages.
func (pf *Prefetcher) FetchAllPages(ctx context.Context, term string, filters map[string]string) (map[int][]byte, error) {
	start := time.Now()

	// Fetch first page to get total page count
	firstPageData, totalPages, err := pf.fetcher.SearchPage(ctx, term, filters, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	log.Info().
		Str("term", term).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	// Single page optimization
	if totalPages == 1 {
		result := map[int][]byte{1: firstPageData}
		log.Info().
			Str("term", term).
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return result, nil
	}

	// Cancelled on return so the queue filler unblocks once workers stop
	// draining, e.g. after an early error.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(map[int][]byte)
	results[1] = firstPageData
	resultsMutex := sync.Mutex{}

	pageQueue := make(chan int, pf.config.BufferSize)
	pageResults := make(chan PageResult, pf.config.BufferSize)
	errors := make(chan error, pf.config.MaxConcurrency)

	// Fill page queue (skip page 1, already fetched)
	go func() {
		defer close(pageQueue)
		for page := 2; page <= totalPages; page++ {
			select {
			case pageQueue <- page:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < pf.config.MaxConcurrency; i++ {
		wg.Add(1)
		go pf.worker(ctx, term, filters, pageQueue, pageResults, errors, &wg, i)
	}

	// Close results channel when all workers done
	go func() {
		wg.Wait()
		close(pageResults)
		close(errors)
	}()

	// Collect results
	fetchedPages := 1 // First page already fetched
	for result := range pageResults {
		if result.Error != nil {
			log.Warn().
				Err(result.Error).
				Int("page", result.PageNumber).
				Msg("Page fetch failed")
			continue
		}

		resultsMutex.Lock()
		results[result.PageNumber] = result.Data
		fetchedPages++
		resultsMutex.Unlock()
	}

	// Check for errors
	select {
	case err := <-errors:
		if err != nil {
			log.Warn().
				Err(err).
				Int("fetched_pages", fetchedPages).
				Int("total_pages", totalPages).
				Msg("Worker error - returning partial results")
			return results, fmt.Errorf("worker error (partial data: %d/%d pages): %w", fetchedPages, totalPages, err)
		}
	default:
	}

	log.Info().
		Str("term", term).
		Int("pages", fetchedPages).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// worker processes pages from the queue
func (pf *Prefetcher) worker(ctx context.Context, term string, filters map[string]string, pageQueue <-chan int, results chan<- PageResult, errors chan<- error, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		select {
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		pageCtx, cancel := context.WithTimeout(ctx, pf.config.Timeout)
		data, _, err := pf.fetcher.SearchPage(pageCtx, term, filters, pageNum)
		cancel()

		if err != nil {
			log.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", pageNum).
				Msg("Page fetch failed")

			// Non-blocking error send
			select {
			case errors <- err:
			default:
			}
			return
		}

		select {
		case results <- PageResult{
			PageNumber: pageNum,
			Data:       data,
		}:
		case <-ctx.Done():
			log.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled after fetch)")
			return
		}

		pagesProcessed++
	}

	if pagesProcessed > 0 {
		log.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

package pagination

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"
)

// fakeFetcher serves a fixed number of pages and records which were requested.
type fakeFetcher struct {
	mu         sync.Mutex
	totalPages int
	failPage   int
	requested  []int
}

func (f *fakeFetcher) SearchPage(ctx context.Context, term string, filters map[string]string, page int) ([]byte, int, error) {
	f.mu.Lock()
	f.requested = append(f.requested, page)
	f.mu.Unlock()

	if f.failPage != 0 && page == f.failPage {
		return nil, 0, errors.New("upstream failure")
	}
	return []byte(fmt.Sprintf(`{"page":%d}`, page)), f.totalPages, nil
}

func TestNewPrefetcherDefaults(t *testing.T) {
	pf := NewPrefetcher(&fakeFetcher{totalPages: 1}, Config{})

	if pf.config.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", pf.config.MaxConcurrency)
	}
	if pf.config.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", pf.config.Timeout)
	}
	if pf.config.BufferSize != 64 {
		t.Errorf("BufferSize = %d, want 64", pf.config.BufferSize)
	}
}

func TestFetchAllPagesSinglePage(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 1}
	pf := NewPrefetcher(fetcher, DefaultConfig())

	results, err := pf.FetchAllPages(context.Background(), "pasta", nil)
	if err != nil {
		t.Fatalf("FetchAllPages failed: %v", err)
	}

	if len(results) != 1 {
		t.Errorf("Expected 1 page, got %d", len(results))
	}
	if len(fetcher.requested) != 1 {
		t.Errorf("Expected 1 upstream request, got %d", len(fetcher.requested))
	}
}

func TestFetchAllPagesParallel(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 5}
	pf := NewPrefetcher(fetcher, Config{MaxConcurrency: 2})

	results, err := pf.FetchAllPages(context.Background(), "pasta", nil)
	if err != nil {
		t.Fatalf("FetchAllPages failed: %v", err)
	}

	if len(results) != 5 {
		t.Fatalf("Expected 5 pages, got %d", len(results))
	}
	for page := 1; page <= 5; page++ {
		want := fmt.Sprintf(`{"page":%d}`, page)
		if string(results[page]) != want {
			t.Errorf("Page %d = %s, want %s", page, results[page], want)
		}
	}
}

func TestFetchAllPagesFirstPageError(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 3, failPage: 1}
	pf := NewPrefetcher(fetcher, DefaultConfig())

	_, err := pf.FetchAllPages(context.Background(), "pasta", nil)
	if err == nil {
		t.Fatal("Expected error when first page fails")
	}
}

func TestFetchAllPagesPartialResults(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 4, failPage: 3}
	pf := NewPrefetcher(fetcher, Config{MaxConcurrency: 1})

	results, err := pf.FetchAllPages(context.Background(), "pasta", nil)
	if err == nil {
		t.Fatal("Expected error for partial fetch")
	}

	// First page plus page 2 succeeded before the failure stopped the worker.
	if _, ok := results[1]; !ok {
		t.Error("Expected page 1 in partial results")
	}
	if _, ok := results[3]; ok {
		t.Error("Failed page should not appear in results")
	}
}

// When every worker dies on an early error while far more pages remain
// than the queue buffers, the queue filler must wind down rather than
// block forever on a channel nobody drains.
func TestFetchAllPagesEarlyFailureManyPages(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 40, failPage: 2}
	pf := NewPrefetcher(fetcher, Config{MaxConcurrency: 1, BufferSize: 1})

	before := runtime.NumGoroutine()

	results, err := pf.FetchAllPages(context.Background(), "pasta", nil)
	if err == nil {
		t.Fatal("Expected error for failed fetch")
	}
	if _, ok := results[1]; !ok {
		t.Error("Expected page 1 in partial results")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("Goroutines did not settle: %d running, started with %d",
				runtime.NumGoroutine(), before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFetchAllPagesContextCancelled(t *testing.T) {
	fetcher := &fakeFetcher{totalPages: 50}
	pf := NewPrefetcher(fetcher, Config{MaxConcurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := pf.FetchAllPages(ctx, "pasta", nil)
	if err != nil {
		// First page may already fail on a cancelled context depending on
		// the fetcher; either outcome is acceptable as long as we return.
		return
	}
	if len(results) > 50 {
		t.Errorf("Got %d pages, more than requested", len(results))
	}
}

// Package client provides the resilient upstream fetch client: every
// outbound call selects an API key from the pool, quota-exhaustion
// responses rotate transparently to the next key, and successful results
// are written back through the cache tiers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/recipely/upstream-client/pkg/cache"
	"github.com/recipely/upstream-client/pkg/keypool"
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recipe_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"}) // "quota", "upstream", "exhausted"
)

// DefaultBaseURL is the upstream recipe API.
const DefaultBaseURL = "https://api.spoonacular.com"

// pageSize is the number of search results requested per page.
const pageSize = 10

// maxResponseBytes caps how much of an upstream response body is read.
const maxResponseBytes = 4 << 20

// Config holds the fetcher configuration.
type Config struct {
	// Pool supplies API keys. Required.
	Pool *keypool.Pool

	// Cache is consulted before and populated after upstream calls.
	// Optional; without it every call goes upstream.
	Cache *cache.Tiered

	// BaseURL overrides the upstream API base URL (for tests/proxies).
	BaseURL string

	// Timeout bounds a single HTTP attempt. Defaults to 30 seconds.
	Timeout time.Duration
}

// Fetcher is the resilient upstream client.
type Fetcher struct {
	httpClient *http.Client
	pool       *keypool.Pool
	cache      *cache.Tiered
	baseURL    string
	logger     zerolog.Logger
}

// New creates a fetcher. Returns keypool.ErrNoKeysConfigured when the pool
// is missing or empty, so a misconfigured deployment fails fast instead of
// reporting exhaustion at request time.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Pool == nil || cfg.Pool.Len() == 0 {
		return nil, keypool.ErrNoKeysConfigured
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		pool:       cfg.Pool,
		cache:      cfg.Cache,
		baseURL:    baseURL,
		logger:     log.With().Str("component", "fetcher").Logger(),
	}, nil
}

// Fetch performs an upstream GET with transparent key rotation. On a
// quota-exhaustion response the next key in rotation order is tried
// synchronously; the retry budget is exactly the pool size. Non-quota
// failures return immediately without rotation.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	for attempt := 0; attempt < f.pool.Len(); attempt++ {
		// No further rotation once the caller has given up.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key, err := f.pool.Select()
		if err != nil {
			if errors.Is(err, keypool.ErrPoolExhausted) {
				errorsTotal.WithLabelValues("exhausted").Inc()
				return nil, ErrAllKeysExhausted
			}
			return nil, err
		}

		payload, quotaHit, err := f.doRequest(ctx, endpoint, params, key)
		if err != nil {
			errorsTotal.WithLabelValues("upstream").Inc()
			return nil, err
		}
		if quotaHit {
			errorsTotal.WithLabelValues("quota").Inc()
			f.pool.RecordQuotaExhausted(key)
			f.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt+1).
				Msg("Quota exhausted, rotating to next key")
			continue
		}

		f.pool.RecordSuccess(key)
		return payload, nil
	}

	errorsTotal.WithLabelValues("exhausted").Inc()
	f.logger.Error().Str("endpoint", endpoint).Msg("All API keys exhausted within one call")
	return nil, ErrAllKeysExhausted
}

// doRequest issues one HTTP attempt with the given key. The second return
// value reports a quota-exhaustion signal; any other failure comes back as
// an *UpstreamError.
func (f *Fetcher) doRequest(ctx context.Context, endpoint string, params url.Values, key *keypool.Key) (json.RawMessage, bool, error) {
	query := url.Values{}
	for name, values := range params {
		query[name] = values
	}
	query.Set("apiKey", key.Secret)

	reqURL := f.baseURL + endpoint + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, &UpstreamError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, false, &UpstreamError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, false, &UpstreamError{Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}

	// The upstream is inconsistent about how it signals quota exhaustion:
	// sometimes a 402 status, sometimes an error code inside a JSON body.
	if resp.StatusCode == http.StatusPaymentRequired || quotaSignalInBody(body) {
		return nil, true, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, &UpstreamError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    upstreamMessage(body, resp.Status),
		}
	}

	if !json.Valid(body) {
		return nil, false, &UpstreamError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Message:    "malformed JSON response",
		}
	}

	return body, false, nil
}

// quotaSignalInBody detects the application-level quota error the upstream
// embeds in otherwise-successful responses.
func quotaSignalInBody(body []byte) bool {
	var signal struct {
		Status string `json:"status"`
		Code   int    `json:"code"`
	}
	if err := json.Unmarshal(body, &signal); err != nil {
		return false
	}
	return signal.Status == "failure" && signal.Code == http.StatusPaymentRequired
}

// upstreamMessage extracts the error message from an upstream error body,
// falling back to the HTTP status line.
func upstreamMessage(body []byte, fallback string) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return fallback
}

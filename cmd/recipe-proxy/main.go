package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/recipely/upstream-client/pkg/cache"
	"github.com/recipely/upstream-client/pkg/client"
	"github.com/recipely/upstream-client/pkg/keypool"
	"github.com/recipely/upstream-client/pkg/kv"
	"github.com/recipely/upstream-client/pkg/logging"
	"github.com/recipely/upstream-client/pkg/persist"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: os.Getenv("LOG_PRETTY") == "true",
		Output: os.Stderr,
	})

	port := getEnv("PORT", "8080")
	dataDir := getEnv("DATA_DIR", "./data")

	secrets := keypool.SecretsFromEnv("RECIPE_API_KEY")
	if len(secrets) == 0 {
		logger.Fatal().Msg("No API keys configured (set RECIPE_API_KEY)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", dataDir).Msg("Failed to create data directory")
	}
	durable, err := kv.NewSQLiteStore(filepath.Join(dataDir, "cache.db"), 8<<20)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open durable store")
	}
	defer durable.Close()

	// Session tier uses Redis when configured, otherwise a local store that
	// lives only as long as the process.
	var session kv.Store
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", addr).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", addr).Msg("Connected to Redis")
		session = kv.NewRedisStore(redisClient, "recipe:")
	} else {
		session = kv.NewMemoryStore(0)
	}
	defer session.Close()

	pool, err := keypool.New(keypool.Config{
		Secrets:    secrets,
		DailyLimit: envInt("RECIPE_API_DAILY_LIMIT", keypool.DefaultDailyLimit),
		StateStore: durable,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create key pool")
	}

	tiered := cache.NewTiered(cache.Config{
		Session: session,
		Durable: durable,
	})

	coordinator := persist.New(tiered, durable, persist.Config{})
	if restored, err := coordinator.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("Cache restore failed, starting cold")
	} else if restored > 0 {
		logger.Info().Int("entries", restored).Msg("Cache restored from snapshot")
	}

	fetcher, err := client.New(client.Config{
		Pool:    pool,
		Cache:   tiered,
		BaseURL: os.Getenv("RECIPE_API_BASE_URL"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create fetcher")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/recipes/search", searchHandler(fetcher))
	mux.HandleFunc("/recipes/", recipeHandler(fetcher))
	mux.HandleFunc("/statusz", statusHandler(fetcher))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown failed")
		}
		if err := coordinator.Close(); err != nil {
			logger.Error().Err(err).Msg("Final cache flush failed")
		}
	}()

	logger.Info().Str("addr", server.Addr).Int("keys", pool.Len()).Msg("Starting recipe proxy")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// searchHandler serves /recipes/search?q=pasta&page=2&diet=vegan.
// Every query parameter other than q, page and speculative is treated as an
// upstream search filter.
func searchHandler(fetcher *client.Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := client.SearchQuery{
			Term:        r.URL.Query().Get("q"),
			Speculative: r.URL.Query().Get("speculative") == "true",
		}
		if page := r.URL.Query().Get("page"); page != "" {
			n, err := strconv.Atoi(page)
			if err != nil || n < 1 {
				http.Error(w, "invalid page", http.StatusBadRequest)
				return
			}
			query.Page = n
		}
		for name, values := range r.URL.Query() {
			switch name {
			case "q", "page", "speculative":
				continue
			}
			if query.Filters == nil {
				query.Filters = make(map[string]string)
			}
			query.Filters[name] = values[0]
		}

		payload, err := fetcher.SearchRecipes(r.Context(), query)
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		writeJSON(w, payload)
	}
}

// recipeHandler serves /recipes/{id}.
func recipeHandler(fetcher *client.Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := strings.TrimPrefix(r.URL.Path, "/recipes/")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid recipe id", http.StatusBadRequest)
			return
		}

		payload, err := fetcher.GetRecipe(r.Context(), id)
		if err != nil {
			writeUpstreamError(w, err)
			return
		}
		writeJSON(w, payload)
	}
}

// statusHandler exposes key pool usage and recent cache reads.
func statusHandler(fetcher *client.Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fetcher.Diagnostics()); err != nil {
			http.Error(w, "failed to encode diagnostics", http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, client.ErrAllKeysExhausted):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// Package persist keeps the durable cache tier's snapshot of the
// in-process tier under a fixed byte ceiling, evicting low-priority
// entries first. Persistence runs on a debounced timer after cache
// mutations and eagerly on shutdown; restore runs once at process start.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/recipely/upstream-client/pkg/cache"
	"github.com/recipely/upstream-client/pkg/kv"
)

// Prometheus metrics for persistence runs.
var (
	persistRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recipe_cache_persist_runs_total",
		Help: "Total persistence runs by outcome",
	}, []string{"outcome"}) // "ok", "priority_only", "cleared"

	persistBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recipe_cache_persist_bytes",
		Help: "Serialized size of the last persisted snapshot in bytes",
	})

	persistEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recipe_cache_persist_evicted_total",
		Help: "Total entries evicted from snapshots by the size ceiling",
	})
)

// FormatVersion tags the snapshot envelope. A stored snapshot with a
// different version is discarded wholesale on restore; there is no partial
// migration.
const FormatVersion = 1

// snapshotKey is the storage key for the persisted snapshot.
const snapshotKey = "cache:snapshot"

// envelope is the serialised snapshot format.
type envelope struct {
	Version int            `json:"version"`
	SavedAt time.Time      `json:"saved_at"`
	Entries []*cache.Entry `json:"entries"`
}

// Config holds the coordinator configuration.
type Config struct {
	// CeilingBytes bounds the estimated size of a persisted snapshot.
	// Defaults to 2 MiB.
	CeilingBytes int64

	// Debounce is the minimum interval between persistence runs triggered
	// by cache mutations. Defaults to 5 seconds.
	Debounce time.Duration
}

// Coordinator persists the in-process cache tier into a durable store.
type Coordinator struct {
	cache  *cache.Tiered
	store  kv.Store
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// New creates a coordinator and registers it for the cache's mutation
// notifications. Call Restore before the first reads, and Close (or Flush)
// on shutdown.
func New(tiered *cache.Tiered, store kv.Store, cfg Config) *Coordinator {
	if cfg.CeilingBytes <= 0 {
		cfg.CeilingBytes = 2 << 20
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 5 * time.Second
	}

	c := &Coordinator{
		cache:  tiered,
		store:  store,
		cfg:    cfg,
		logger: log.With().Str("component", "persist").Logger(),
	}
	tiered.OnMutate(c.schedule)
	return c
}

// schedule arms the debounce timer. At most one persistence run is pending
// at any time; mutations during the window coalesce into it.
func (c *Coordinator) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.cfg.Debounce, func() {
		c.mu.Lock()
		c.timer = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.persist(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Background persistence failed")
		}
	})
}

// Flush persists immediately, cancelling any pending debounced run. Used
// for lifecycle signals (shutdown, going to background). The returned error
// is for logging only; persistence failures never affect cache operation.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	return c.persist(ctx)
}

// Close flushes once more and stops all background work.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.persist(ctx)
}

// persist snapshots the in-process tier and writes the selected entries.
// On a quota error the write is retried with priority entries only; if that
// also fails the durable snapshot is cleared rather than left partial.
func (c *Coordinator) persist(ctx context.Context) error {
	entries := c.cache.Snapshot()
	selected, evicted := selectForPersistence(entries, c.cfg.CeilingBytes)
	persistEvictedTotal.Add(float64(evicted))

	err := c.write(ctx, selected)
	if err == nil {
		persistRunsTotal.WithLabelValues("ok").Inc()
		c.logger.Debug().
			Int("entries", len(selected)).
			Int("evicted", evicted).
			Msg("Persisted cache snapshot")
		return nil
	}
	if !errors.Is(err, kv.ErrQuotaExceeded) {
		return fmt.Errorf("write snapshot: %w", err)
	}

	// The size estimate undershot the store's real quota. Retry with
	// user-owned data only.
	priority := make([]*cache.Entry, 0, len(selected))
	for _, entry := range selected {
		if entry.Class == cache.ClassPriority {
			priority = append(priority, entry)
		}
	}

	if err := c.write(ctx, priority); err == nil {
		persistRunsTotal.WithLabelValues("priority_only").Inc()
		c.logger.Warn().
			Int("entries", len(priority)).
			Msg("Storage quota hit, persisted priority entries only")
		return nil
	}

	// Clear rather than leave a corrupt or partial snapshot behind.
	persistRunsTotal.WithLabelValues("cleared").Inc()
	c.logger.Warn().Msg("Storage quota hit twice, clearing durable snapshot")
	if err := c.store.Remove(ctx, snapshotKey); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

func (c *Coordinator) write(ctx context.Context, entries []*cache.Entry) error {
	data, err := json.Marshal(envelope{
		Version: FormatVersion,
		SavedAt: time.Now(),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// The snapshot blob itself expires with the durable tier, so an
	// abandoned store cannot serve one indefinitely.
	if err := c.store.Set(ctx, snapshotKey, string(data), c.cache.DurableTTL()); err != nil {
		return err
	}
	persistBytes.Set(float64(len(data)))
	return nil
}

// Restore replays the persisted snapshot into the in-process tier,
// preserving original write timestamps. A missing, corrupt or
// version-mismatched snapshot is discarded and restore starts empty.
// Returns the number of entries restored.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	raw, err := c.store.Get(ctx, snapshotKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.logger.Warn().Msg("Corrupt cache snapshot, discarding")
		_ = c.store.Remove(ctx, snapshotKey)
		return 0, nil
	}

	if env.Version != FormatVersion {
		c.logger.Info().
			Int("stored", env.Version).
			Int("current", FormatVersion).
			Msg("Snapshot format version mismatch, discarding")
		_ = c.store.Remove(ctx, snapshotKey)
		return 0, nil
	}

	restored := c.cache.Replay(env.Entries)
	c.logger.Info().Int("entries", restored).Msg("Restored cache snapshot")
	return restored, nil
}

// selectForPersistence partitions entries into priority and normal classes.
// Priority entries are always included. Normal entries are sorted most
// recently written first and added greedily until the running size total
// would exceed the ceiling. Returns the selected set and the evicted count.
func selectForPersistence(entries []*cache.Entry, ceiling int64) ([]*cache.Entry, int) {
	var priority, normal []*cache.Entry
	for _, entry := range entries {
		if entry.Class == cache.ClassPriority {
			priority = append(priority, entry)
		} else {
			normal = append(normal, entry)
		}
	}

	sort.Slice(normal, func(i, j int) bool {
		return normal[i].WrittenAt.After(normal[j].WrittenAt)
	})

	selected := make([]*cache.Entry, 0, len(entries))
	total := int64(0)
	for _, entry := range priority {
		selected = append(selected, entry)
		total += int64(entry.Size)
	}

	evicted := 0
	for i, entry := range normal {
		if total+int64(entry.Size) > ceiling {
			evicted = len(normal) - i
			break
		}
		selected = append(selected, entry)
		total += int64(entry.Size)
	}

	return selected, evicted
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/recipely/upstream-client/pkg/kv"
)

// ErrMiss indicates the key was not found in any tier.
var ErrMiss = errors.New("cache miss")

// Tier identifies which cache layer satisfied a read.
type Tier string

const (
	TierMemory  Tier = "memory"
	TierSession Tier = "session"
	TierDurable Tier = "durable"
)

// Default tier lifetimes and priority prefixes.
var (
	DefaultSessionTTL = 2 * time.Hour
	DefaultDurableTTL = 7 * 24 * time.Hour

	// DefaultPriorityPrefixes mark user-owned data exempt from size-based
	// eviction at persistence time.
	DefaultPriorityPrefixes = []string{"favorites:", "collections:", "mealplan:", "shoppinglist:"}
)

// Config holds the tiered cache configuration.
type Config struct {
	// Session is the session-scoped tier backend. Optional.
	Session kv.Store

	// Durable is the durable tier backend. Optional.
	Durable kv.Store

	// SessionTTL is the session tier entry lifetime. Defaults to DefaultSessionTTL.
	SessionTTL time.Duration

	// DurableTTL is the durable tier entry lifetime. Defaults to DefaultDurableTTL.
	DurableTTL time.Duration

	// PriorityPrefixes are key prefixes classified as ClassPriority.
	// Defaults to DefaultPriorityPrefixes.
	PriorityPrefixes []string

	// ReadLogSize is how many recent reads the diagnostics log keeps.
	// Defaults to 32.
	ReadLogSize int
}

// Tiered is the three-tier cache. The in-process tier is authoritative and
// has no TTL; the session and durable tiers each enforce their own expiry
// at read time. Outer-tier failures degrade the cache, they never propagate.
type Tiered struct {
	mu     sync.RWMutex
	memory map[string]*Entry

	session kv.Store
	durable kv.Store
	cfg     Config
	logger  zerolog.Logger
	reads   *readLog

	// now is overridable in tests.
	now func() time.Time

	mutateMu sync.Mutex
	onMutate func()
}

// NewTiered creates a tiered cache. Session and durable backends are
// optional; a nil backend simply skips that tier.
func NewTiered(cfg Config) *Tiered {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.DurableTTL <= 0 {
		cfg.DurableTTL = DefaultDurableTTL
	}
	if cfg.PriorityPrefixes == nil {
		cfg.PriorityPrefixes = DefaultPriorityPrefixes
	}
	if cfg.ReadLogSize <= 0 {
		cfg.ReadLogSize = 32
	}

	return &Tiered{
		memory:  make(map[string]*Entry),
		session: cfg.Session,
		durable: cfg.Durable,
		cfg:     cfg,
		logger:  log.With().Str("component", "cache").Logger(),
		reads:   newReadLog(cfg.ReadLogSize),
		now:     time.Now,
	}
}

// OnMutate registers a callback invoked after every persistable mutation of
// the in-process tier. The persistence coordinator uses this to debounce
// snapshots.
func (t *Tiered) OnMutate(fn func()) {
	t.mutateMu.Lock()
	t.onMutate = fn
	t.mutateMu.Unlock()
}

// Get returns the payload for key, checking tiers innermost to outermost.
// A hit in an outer tier is promoted into the in-process tier.
// Returns ErrMiss when no tier holds a live entry.
func (t *Tiered) Get(ctx context.Context, key string) (json.RawMessage, error) {
	t.mu.RLock()
	entry, ok := t.memory[key]
	t.mu.RUnlock()
	if ok {
		CacheHits.WithLabelValues(string(TierMemory)).Inc()
		t.reads.record(key, TierMemory)
		return entry.Payload, nil
	}

	if entry := t.outerGet(ctx, t.session, key, TierSession); entry != nil {
		t.promote(entry)
		CacheHits.WithLabelValues(string(TierSession)).Inc()
		t.reads.record(key, TierSession)
		return entry.Payload, nil
	}

	if entry := t.outerGet(ctx, t.durable, key, TierDurable); entry != nil {
		t.promote(entry)
		CacheHits.WithLabelValues(string(TierDurable)).Inc()
		t.reads.record(key, TierDurable)
		return entry.Payload, nil
	}

	CacheMisses.Inc()
	return nil, ErrMiss
}

// Put writes the payload to the in-process tier and mirrors it into the
// session and durable tiers.
func (t *Tiered) Put(ctx context.Context, key string, payload json.RawMessage) {
	entry := t.newEntry(key, payload, false)

	t.mu.Lock()
	t.memory[key] = entry
	MemoryEntries.Set(float64(len(t.memory)))
	t.mu.Unlock()

	t.outerSet(ctx, t.session, entry.withExpiry(t.now().Add(t.cfg.SessionTTL)), t.cfg.SessionTTL, TierSession)
	t.outerSet(ctx, t.durable, entry.withExpiry(t.now().Add(t.cfg.DurableTTL)), t.cfg.DurableTTL, TierDurable)

	t.notifyMutate()
}

// PutEphemeral writes speculative or partial data to the in-process tier
// only. Ephemeral entries are never mirrored to the outer tiers and are
// excluded from persistence snapshots.
func (t *Tiered) PutEphemeral(key string, payload json.RawMessage) {
	entry := t.newEntry(key, payload, true)

	t.mu.Lock()
	t.memory[key] = entry
	MemoryEntries.Set(float64(len(t.memory)))
	t.mu.Unlock()
}

// Invalidate removes the key from every tier.
func (t *Tiered) Invalidate(ctx context.Context, key string) {
	t.mu.Lock()
	delete(t.memory, key)
	MemoryEntries.Set(float64(len(t.memory)))
	t.mu.Unlock()

	t.outerRemove(ctx, t.session, key)
	t.outerRemove(ctx, t.durable, key)

	t.notifyMutate()
}

// InvalidateByPrefix removes every key starting with prefix from every tier.
func (t *Tiered) InvalidateByPrefix(ctx context.Context, prefix string) {
	t.mu.Lock()
	for key := range t.memory {
		if strings.HasPrefix(key, prefix) {
			delete(t.memory, key)
		}
	}
	MemoryEntries.Set(float64(len(t.memory)))
	t.mu.Unlock()

	for _, store := range []kv.Store{t.session, t.durable} {
		if store == nil {
			continue
		}
		keys, err := store.Keys(ctx, prefix)
		if err != nil {
			CacheErrors.WithLabelValues("remove").Inc()
			t.logger.Warn().Err(err).Str("prefix", prefix).Msg("Prefix scan failed")
			continue
		}
		for _, key := range keys {
			t.outerRemove(ctx, store, key)
		}
	}

	t.notifyMutate()
}

// Snapshot returns copies of all persistable in-process entries. Entries
// without an expiry are stamped with the durable tier's lifetime, so a
// persisted copy ages out on the same schedule as a direct durable-tier
// write. The snapshot is taken under a read lock; writers are never blocked
// for the duration of a persistence run.
func (t *Tiered) Snapshot() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]*Entry, 0, len(t.memory))
	for _, entry := range t.memory {
		if entry.ephemeral {
			continue
		}
		clone := *entry
		if clone.ExpiresAt.IsZero() {
			clone.ExpiresAt = clone.WrittenAt.Add(t.cfg.DurableTTL)
		}
		entries = append(entries, &clone)
	}
	return entries
}

// Replay inserts restored entries into the in-process tier, preserving
// their original timestamps so recency ordering stays consistent across a
// restart. Entries already expired are dropped. Returns how many entries
// were restored.
func (t *Tiered) Replay(entries []*Entry) int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	restored := 0
	for _, entry := range entries {
		if entry.Key == "" || entry.Expired(now) {
			continue
		}
		t.memory[entry.Key] = entry
		restored++
	}
	MemoryEntries.Set(float64(len(t.memory)))
	return restored
}

// Reads returns the most recent read records, newest first, for the
// diagnostics endpoint.
func (t *Tiered) Reads() []ReadRecord {
	return t.reads.recent()
}

// DurableTTL returns the durable tier's entry lifetime.
func (t *Tiered) DurableTTL() time.Duration {
	return t.cfg.DurableTTL
}

func (t *Tiered) newEntry(key string, payload json.RawMessage, ephemeral bool) *Entry {
	return &Entry{
		Key:       key,
		Payload:   payload,
		Class:     t.classify(key),
		WrittenAt: t.now(),
		Size:      estimateSize(key, payload),
		ephemeral: ephemeral,
	}
}

func (t *Tiered) classify(key string) Class {
	for _, prefix := range t.cfg.PriorityPrefixes {
		if strings.HasPrefix(key, prefix) {
			return ClassPriority
		}
	}
	return ClassNormal
}

// outerGet reads an entry from a session/durable backend. Expired entries
// are removed and treated as misses; corrupted entries are removed and
// treated as misses.
func (t *Tiered) outerGet(ctx context.Context, store kv.Store, key string, tier Tier) *Entry {
	if store == nil {
		return nil
	}

	raw, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			CacheErrors.WithLabelValues("get").Inc()
			t.logger.Warn().Err(err).Str("tier", string(tier)).Str("key", key).Msg("Tier read failed")
		}
		return nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		t.logger.Warn().Str("tier", string(tier)).Str("key", key).Msg("Corrupted cache entry, removing")
		t.outerRemove(ctx, store, key)
		return nil
	}

	if entry.Expired(t.now()) {
		t.outerRemove(ctx, store, key)
		return nil
	}

	return &entry
}

// outerSet mirrors an entry into a session/durable backend. Quota and
// storage failures degrade the cache to the remaining tiers; they are
// logged and never surfaced.
func (t *Tiered) outerSet(ctx context.Context, store kv.Store, entry *Entry, ttl time.Duration, tier Tier) {
	if store == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		t.logger.Warn().Err(err).Str("key", entry.Key).Msg("Failed to marshal cache entry")
		return
	}

	if err := store.Set(ctx, entry.Key, string(data), ttl); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		if errors.Is(err, kv.ErrQuotaExceeded) {
			t.logger.Warn().Str("tier", string(tier)).Str("key", entry.Key).
				Msg("Tier quota exceeded, continuing without it")
		} else {
			t.logger.Warn().Err(err).Str("tier", string(tier)).Str("key", entry.Key).Msg("Tier write failed")
		}
	}
}

func (t *Tiered) outerRemove(ctx context.Context, store kv.Store, key string) {
	if store == nil {
		return
	}
	if err := store.Remove(ctx, key); err != nil {
		CacheErrors.WithLabelValues("remove").Inc()
		t.logger.Warn().Err(err).Str("key", key).Msg("Tier remove failed")
	}
}

// promote installs an outer-tier hit into the in-process tier.
// The entry keeps its timestamps.
func (t *Tiered) promote(entry *Entry) {
	t.mu.Lock()
	t.memory[entry.Key] = entry
	MemoryEntries.Set(float64(len(t.memory)))
	t.mu.Unlock()
}

func (t *Tiered) notifyMutate() {
	t.mutateMu.Lock()
	fn := t.onMutate
	t.mutateMu.Unlock()
	if fn != nil {
		fn()
	}
}

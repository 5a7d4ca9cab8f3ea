// Package keypool manages the pool of upstream API keys and the rotation
// state machine. Each key carries a daily call budget; when the upstream
// signals quota exhaustion the pool rotates to the next viable key.
package keypool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for key pool operations.
var (
	keyRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recipe_api_key_rotations_total",
		Help: "Total number of API key rotations triggered by quota exhaustion",
	})

	keyExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recipe_api_key_exhausted_total",
		Help: "Total number of keys that reached their daily quota",
	})

	poolResetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recipe_api_pool_resets_total",
		Help: "Total number of fail-open pool resets after full exhaustion",
	})

	keysAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recipe_api_keys_available",
		Help: "Number of API keys currently available for selection",
	})
)

// Errors returned by the pool.
var (
	// ErrNoKeysConfigured is returned when the pool is constructed without keys.
	ErrNoKeysConfigured = errors.New("no api keys configured")

	// ErrPoolExhausted is returned by Select under PolicyReject when every
	// key in the pool is exhausted.
	ErrPoolExhausted = errors.New("all api keys exhausted")
)

// ExhaustionPolicy decides what Select does when every key is exhausted.
type ExhaustionPolicy string

const (
	// PolicyResetAndRetry resets all usage counters and starts over at
	// index 0. This fails open: availability is favoured over strict quota
	// compliance, on the assumption that local counters have drifted from
	// the upstream accounting window.
	PolicyResetAndRetry ExhaustionPolicy = "reset_and_retry"

	// PolicyReject surfaces ErrPoolExhausted instead of resetting.
	PolicyReject ExhaustionPolicy = "reject"
)

// DefaultDailyLimit is the per-key call budget assumed when none is configured.
const DefaultDailyLimit = 150

// Key is a single upstream API key with its usage state. The mutable fields
// are owned by the Pool; callers only ever read them through Snapshot.
type Key struct {
	Secret string
	Limit  int

	used      int
	lastUsed  time.Time
	exhausted bool
}

// available reports whether the key can be selected.
func (k *Key) available() bool {
	return !k.exhausted && k.used < k.Limit
}

// KeyStatus is a read-only snapshot of one key's usage state.
type KeyStatus struct {
	ID        string    `json:"id"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Exhausted bool      `json:"exhausted"`
	LastUsed  time.Time `json:"last_used,omitzero"`
}

// Config holds the pool configuration.
type Config struct {
	// Secrets is the ordered list of API key strings.
	Secrets []string

	// DailyLimit is the per-key call budget per accounting window.
	// Defaults to DefaultDailyLimit.
	DailyLimit int

	// Policy decides what happens when every key is exhausted.
	// Defaults to PolicyResetAndRetry.
	Policy ExhaustionPolicy

	// StateStore optionally persists rotation state across restarts within
	// the same accounting window. Persistence is best-effort.
	StateStore StateStore
}

// Pool holds an ordered list of keys and a current-index pointer.
// All bookkeeping is serialised through a single mutex; upstream calls made
// with selected keys proceed in parallel outside the lock.
type Pool struct {
	mu      sync.Mutex
	keys    []*Key
	current int
	policy  ExhaustionPolicy
	state   StateStore
	logger  zerolog.Logger
}

// New creates a key pool from the given configuration.
// Returns ErrNoKeysConfigured when no secrets are provided.
func New(cfg Config) (*Pool, error) {
	if len(cfg.Secrets) == 0 {
		return nil, ErrNoKeysConfigured
	}

	limit := cfg.DailyLimit
	if limit <= 0 {
		limit = DefaultDailyLimit
	}

	policy := cfg.Policy
	if policy == "" {
		policy = PolicyResetAndRetry
	}

	keys := make([]*Key, len(cfg.Secrets))
	for i, secret := range cfg.Secrets {
		keys[i] = &Key{Secret: secret, Limit: limit}
	}

	p := &Pool{
		keys:   keys,
		policy: policy,
		state:  cfg.StateStore,
		logger: log.With().Str("component", "keypool").Logger(),
	}

	if p.state != nil {
		if err := p.restoreState(); err != nil {
			p.logger.Warn().Err(err).Msg("Failed to restore key pool state, starting fresh")
		}
	}

	p.updateAvailableGauge()
	p.logger.Info().
		Int("keys", len(keys)).
		Int("daily_limit", limit).
		Str("policy", string(policy)).
		Msg("Key pool initialised")

	return p, nil
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int {
	return len(p.keys)
}

// Select returns the next viable key, scanning forward circularly from the
// current index. When every key is exhausted, behaviour depends on the
// configured policy: PolicyResetAndRetry resets all counters and returns the
// key at index 0, PolicyReject returns ErrPoolExhausted.
func (p *Pool) Select() (*Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.keys); i++ {
		idx := (p.current + i) % len(p.keys)
		if p.keys[idx].available() {
			p.current = idx
			return p.keys[idx], nil
		}
	}

	if p.policy == PolicyReject {
		return nil, ErrPoolExhausted
	}

	// Fail open: local counters may not reflect the upstream window, so
	// reset everything and start over rather than refuse all traffic.
	p.logger.Warn().Int("keys", len(p.keys)).Msg("All API keys exhausted, resetting pool")
	poolResetsTotal.Inc()
	p.resetLocked()
	return p.keys[0], nil
}

// RecordSuccess records a completed call against the key. The key
// transitions to exhausted once its usage counter reaches the limit.
func (p *Pool) RecordSuccess(k *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k.used++
	k.lastUsed = time.Now()
	if k.used >= k.Limit && !k.exhausted {
		k.exhausted = true
		keyExhaustedTotal.Inc()
		p.logger.Info().
			Str("key", maskSecret(k.Secret)).
			Int("used", k.used).
			Msg("API key reached daily quota")
	}

	p.updateAvailableGauge()
	p.saveStateLocked()
}

// RecordQuotaExhausted marks the key exhausted after an upstream quota
// signal. The upstream is authoritative over the local estimate, so the
// usage counter is forced to the limit regardless of its value. The current
// index advances so subsequent selections skip this key first.
func (p *Pool) RecordQuotaExhausted(k *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k.used = k.Limit
	k.lastUsed = time.Now()
	if !k.exhausted {
		k.exhausted = true
		keyExhaustedTotal.Inc()
	}

	p.current = (p.indexOfLocked(k) + 1) % len(p.keys)
	keyRotationsTotal.Inc()

	p.logger.Warn().
		Str("key", maskSecret(k.Secret)).
		Int("next_index", p.current).
		Msg("Upstream reported quota exhaustion, rotating key")

	p.updateAvailableGauge()
	p.saveStateLocked()
}

// Reset clears all usage counters and exhaustion flags. This is the
// administrative reset for a new accounting window.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	p.logger.Info().Msg("Key pool reset")
}

// Snapshot returns per-key usage diagnostics with secrets masked.
func (p *Pool) Snapshot() []KeyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]KeyStatus, len(p.keys))
	for i, k := range p.keys {
		remaining := k.Limit - k.used
		if remaining < 0 {
			remaining = 0
		}
		statuses[i] = KeyStatus{
			ID:        maskSecret(k.Secret),
			Used:      k.used,
			Limit:     k.Limit,
			Remaining: remaining,
			Exhausted: k.exhausted,
			LastUsed:  k.lastUsed,
		}
	}
	return statuses
}

func (p *Pool) resetLocked() {
	for _, k := range p.keys {
		k.used = 0
		k.exhausted = false
	}
	p.current = 0
	p.updateAvailableGauge()
	p.saveStateLocked()
}

func (p *Pool) indexOfLocked(k *Key) int {
	for i, candidate := range p.keys {
		if candidate == k {
			return i
		}
	}
	return 0
}

func (p *Pool) updateAvailableGauge() {
	available := 0
	for _, k := range p.keys {
		if k.available() {
			available++
		}
	}
	keysAvailable.Set(float64(available))
}

// maskSecret renders a key secret safe for logs and diagnostics.
func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return fmt.Sprintf("****%s", secret[len(secret)-4:])
}

package keypool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// stateKey is the storage key for persisted rotation state.
const stateKey = "keypool:state"

// StateStore is the subset of kv.Store the pool needs to persist rotation
// state across restarts. Any kv.Store implementation satisfies it.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// poolState is the serialised rotation state. Secrets are never stored;
// keys are matched by fingerprint on restore.
type poolState struct {
	Current int        `json:"current"`
	Keys    []keyState `json:"keys"`
}

type keyState struct {
	Fingerprint string    `json:"fingerprint"`
	Used        int       `json:"used"`
	Exhausted   bool      `json:"exhausted"`
	LastUsed    time.Time `json:"last_used,omitzero"`
}

// fingerprint derives a stable non-reversible identifier for a secret.
func fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}

// saveStateLocked persists the current rotation state. Best-effort: failures
// are logged, never surfaced. Caller must hold p.mu.
func (p *Pool) saveStateLocked() {
	if p.state == nil {
		return
	}

	state := poolState{Current: p.current, Keys: make([]keyState, len(p.keys))}
	for i, k := range p.keys {
		state.Keys[i] = keyState{
			Fingerprint: fingerprint(k.Secret),
			Used:        k.used,
			Exhausted:   k.exhausted,
			LastUsed:    k.lastUsed,
		}
	}

	data, err := json.Marshal(state)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal key pool state")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.state.Set(ctx, stateKey, string(data), 0); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to persist key pool state")
	}
}

// restoreState replays persisted rotation state onto the configured keys.
// Keys are matched by secret fingerprint so reordering or swapping secrets
// in configuration does not corrupt counters.
func (p *Pool) restoreState() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := p.state.Get(ctx, stateKey)
	if err != nil {
		// Missing state is the normal first-run case.
		return nil
	}

	var state poolState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return fmt.Errorf("parse key pool state: %w", err)
	}

	byFingerprint := make(map[string]keyState, len(state.Keys))
	for _, ks := range state.Keys {
		byFingerprint[ks.Fingerprint] = ks
	}

	restored := 0
	for _, k := range p.keys {
		ks, ok := byFingerprint[fingerprint(k.Secret)]
		if !ok {
			continue
		}
		k.used = ks.Used
		k.exhausted = ks.Exhausted
		k.lastUsed = ks.LastUsed
		restored++
	}

	if state.Current >= 0 && state.Current < len(p.keys) {
		p.current = state.Current
	}

	if restored > 0 {
		p.logger.Info().Int("keys", restored).Msg("Restored key pool rotation state")
	}
	return nil
}

package cache

import (
	"encoding/json"
	"time"
)

// Class partitions entries for persistence-time eviction. Priority entries
// (user-owned data) are exempt from size-based eviction.
type Class string

const (
	// ClassPriority marks user-owned data such as favourites, collections,
	// meal plans and shopping lists.
	ClassPriority Class = "priority"

	// ClassNormal marks everything else, dominated by upstream search
	// result caches.
	ClassNormal Class = "normal"
)

// entryOverheadBytes is the estimated serialisation overhead per entry
// (field names, timestamps, quoting) on top of key and payload bytes.
const entryOverheadBytes = 96

// Entry is a cached upstream result.
type Entry struct {
	// Key is the normalized request fingerprint.
	Key string `json:"key"`

	// Payload is the JSON-serialized upstream result.
	Payload json.RawMessage `json:"payload"`

	// Class is the persistence priority class.
	Class Class `json:"class"`

	// WrittenAt is when the payload was fetched.
	WrittenAt time.Time `json:"written_at"`

	// ExpiresAt is when the entry becomes stale. Zero means no expiry
	// (in-process tier).
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	// Size is the estimated serialized size in bytes.
	Size int `json:"size"`

	// ephemeral entries never leave the in-process tier.
	ephemeral bool
}

// Expired reports whether the entry is stale at the given instant.
// Entries without an expiry never expire.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// withExpiry returns a copy of the entry carrying the given expiry, for
// mirroring into a TTL-bearing tier.
func (e *Entry) withExpiry(expiresAt time.Time) *Entry {
	clone := *e
	clone.ExpiresAt = expiresAt
	return &clone
}

// estimateSize computes an entry's serialized size estimate.
func estimateSize(key string, payload json.RawMessage) int {
	return len(key) + len(payload) + entryOverheadBytes
}

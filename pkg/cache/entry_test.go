package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEntryExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"no expiry", time.Time{}, false},
		{"future expiry", now.Add(time.Hour), false},
		{"past expiry", now.Add(-time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{ExpiresAt: tt.expiresAt}
			if got := e.Expired(now); got != tt.want {
				t.Errorf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntryWithExpiry(t *testing.T) {
	original := &Entry{Key: "a", Payload: json.RawMessage(`"v"`)}
	expiry := time.Now().Add(time.Hour)

	clone := original.withExpiry(expiry)
	if !clone.ExpiresAt.Equal(expiry) {
		t.Errorf("clone ExpiresAt = %v, want %v", clone.ExpiresAt, expiry)
	}
	if !original.ExpiresAt.IsZero() {
		t.Error("withExpiry mutated the original entry")
	}
}

func TestEstimateSize(t *testing.T) {
	size := estimateSize("search:pasta:1", json.RawMessage(`{"results":[]}`))
	want := len("search:pasta:1") + len(`{"results":[]}`) + entryOverheadBytes
	if size != want {
		t.Errorf("estimateSize = %d, want %d", size, want)
	}
}

package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupSQLite creates a file-backed store in a temp directory.
func setupSQLite(t *testing.T, maxBytes int64) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), maxBytes)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := setupSQLite(t, 0)
	ctx := context.Background()

	if err := s.Set(ctx, "a", "hello", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("Get = %q, want %q", got, "hello")
	}
}

func TestSQLiteStoreOverwrite(t *testing.T) {
	s := setupSQLite(t, 0)
	ctx := context.Background()

	if err := s.Set(ctx, "a", "old", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "a", "new", 0); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "new" {
		t.Errorf("Get = %q, want %q", got, "new")
	}
}

func TestSQLiteStoreNotFound(t *testing.T) {
	s := setupSQLite(t, 0)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreQuota(t *testing.T) {
	s := setupSQLite(t, 20)
	ctx := context.Background()

	if err := s.Set(ctx, "a", "0123456789", 0); err != nil {
		t.Fatalf("Set within quota failed: %v", err)
	}
	if err := s.Set(ctx, "b", "0123456789", 0); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Set over quota = %v, want ErrQuotaExceeded", err)
	}

	// Overwriting the existing key does not count its old bytes twice.
	if err := s.Set(ctx, "a", "9876543210", 0); err != nil {
		t.Errorf("Overwrite within quota failed: %v", err)
	}
}

func TestSQLiteStoreExpiry(t *testing.T) {
	s := setupSQLite(t, 0)
	ctx := context.Background()

	if err := s.Set(ctx, "a", "v", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Backdate the expiry rather than sleeping; expires_at has second
	// granularity.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE kv_entries SET expires_at = ? WHERE key = ?`,
		time.Now().Add(-time.Minute).Unix(), "a",
	); err != nil {
		t.Fatalf("backdate expiry: %v", err)
	}

	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get expired = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreKeys(t *testing.T) {
	s := setupSQLite(t, 0)
	ctx := context.Background()

	for _, k := range []string{"favorites:u1", "favorites:u2", "search:pizza:1"} {
		if err := s.Set(ctx, k, "v", 0); err != nil {
			t.Fatalf("Set %q failed: %v", k, err)
		}
	}

	keys, err := s.Keys(ctx, "favorites:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Keys returned %d keys, want 2: %v", len(keys), keys)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Set(ctx, "a", "survives", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got != "survives" {
		t.Errorf("Get = %q, want %q", got, "survives")
	}
}

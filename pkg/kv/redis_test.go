package kv

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupRedis creates a RedisStore backed by an in-process miniredis.
func setupRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, "test:"), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	s, _ := setupRedis(t)
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

func TestRedisStoreNotFound(t *testing.T) {
	s, _ := setupRedis(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := setupRedis(t)
	ctx := context.Background()

	if err := s.Set(ctx, "a", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreRemove(t *testing.T) {
	s, _ := setupRedis(t)
	ctx := context.Background()

	if err := s.Set(ctx, "a", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Remove = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreKeys(t *testing.T) {
	s, _ := setupRedis(t)
	ctx := context.Background()

	for _, k := range []string{"search:pasta:1", "search:soup:1", "recipe:7"} {
		if err := s.Set(ctx, k, "v", 0); err != nil {
			t.Fatalf("Set %q failed: %v", k, err)
		}
	}

	keys, err := s.Keys(ctx, "search:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	sort.Strings(keys)

	want := []string{"search:pasta:1", "search:soup:1"}
	if len(keys) != len(want) {
		t.Fatalf("Keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

// Glob metacharacters in a key prefix must match literally, not as a
// pattern.
func TestRedisStoreKeysLiteralPrefix(t *testing.T) {
	s, _ := setupRedis(t)
	ctx := context.Background()

	for _, k := range []string{"search:a*b:1", "search:axb:1", "search:a?b:1"} {
		if err := s.Set(ctx, k, "v", 0); err != nil {
			t.Fatalf("Set %q failed: %v", k, err)
		}
	}

	keys, err := s.Keys(ctx, "search:a*b:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "search:a*b:1" {
		t.Errorf("Keys = %v, want only the literal match", keys)
	}
}

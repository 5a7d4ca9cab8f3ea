// Package kv provides string-keyed key/value storage backends for the
// session and durable cache tiers. All backends report a quota violation
// with ErrQuotaExceeded so callers can degrade instead of failing.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("kv: key not found")

	// ErrQuotaExceeded indicates a write was rejected because the store's
	// byte quota would be exceeded.
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
)

// Store is a string-keyed key/value store with a finite quota.
// A ttl of zero means the value does not expire.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. Returns ErrQuotaExceeded when the store's
	// byte quota would be exceeded.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Remove deletes the value for key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys returns all keys that start with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

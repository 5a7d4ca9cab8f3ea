package kv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a persistent Store backed by SQLite. It enforces its byte
// quota itself, since SQLite has no built-in size ceiling. This is the
// default backend for the durable cache tier.
type SQLiteStore struct {
	db       *sql.DB
	maxBytes int64
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// initialises the schema. Use ":memory:" for an in-memory database.
// maxBytes <= 0 disables the quota.
func NewSQLiteStore(dsn string, maxBytes int64) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_entries (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: create table: %w", err)
	}

	return &SQLiteStore{db: db, maxBytes: maxBytes}, nil
}

// Get returns the value for key, or ErrNotFound. Expired rows are removed
// on read.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	var expiresAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kv: sqlite get: %w", err)
	}

	if expiresAt > 0 && time.Now().Unix() > expiresAt {
		_ = s.Remove(ctx, key)
		return "", ErrNotFound
	}

	return value, nil
}

// Set stores value under key. Returns ErrQuotaExceeded when the aggregate
// stored bytes would exceed the quota.
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if s.maxBytes > 0 {
		var used int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv_entries WHERE key != ?`, key,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("kv: sqlite size: %w", err)
		}
		if used+int64(len(key)+len(value)) > s.maxBytes {
			return ErrQuotaExceeded
		}
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("kv: sqlite set: %w", err)
	}

	return tx.Commit()
}

// Remove deletes the value for key.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("kv: sqlite remove: %w", err)
	}
	return nil
}

// Keys returns all live keys that start with prefix.
func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv_entries
		WHERE key LIKE ? || '%' AND (expires_at = 0 OR expires_at > ?)
	`, prefix, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("kv: sqlite keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("kv: sqlite scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

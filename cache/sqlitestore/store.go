// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package sqlitestore provides a cache.Store persisted in a SQLite
// database, so that cached responses survive process restarts.
//
// The driver is modernc.org/sqlite, which is pure Go and needs no cgo.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gogama/reqflow/cache"
	_ "modernc.org/sqlite"
)

// Store is a cache.Store backed by one SQLite table. It is safe for
// concurrent use by multiple goroutines.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ cache.Store = (*Store)(nil)

const schema = `
	CREATE TABLE IF NOT EXISTS http_cache (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_http_cache_expires_at ON http_cache(expires_at);
`

// Open opens or creates the SQLite database at path. Use ":memory:"
// for a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to ":memory:" is a distinct database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: ping database: %w", err)
	}
	if _, err = db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: set busy timeout: %w", err)
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create table: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Get returns the value stored under key, unless it has expired.
func (s *Store) Get(key string) ([]byte, bool, error) {
	return s.GetContext(context.Background(), key)
}

// GetContext is Get with a context.
func (s *Store) GetContext(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expires int64
	)
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM http_cache WHERE key = ?`, key)
	if err := row.Scan(&value, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("sqlitestore: get %q: %w", key, err)
	}
	if expires != 0 && s.now().UnixNano() >= expires {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM http_cache WHERE key = ? AND expires_at = ?`, key, expires); err != nil {
			return nil, false, fmt.Errorf("sqlitestore: expire %q: %w", key, err)
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key. A positive ttl sets an expiry time.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	return s.SetContext(context.Background(), key, value, ttl)
}

// SetContext is Set with a context.
func (s *Store) SetContext(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixNano()
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO http_cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			expires_at = excluded.expires_at
	`, key, value, expires)
	if err != nil {
		return fmt.Errorf("sqlitestore: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM http_cache WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlitestore: delete %q: %w", key, err)
	}
	return n > 0, nil
}

// Clear removes every entry.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM http_cache`); err != nil {
		return fmt.Errorf("sqlitestore: clear: %w", err)
	}
	return nil
}

// Purge removes expired entries and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM http_cache WHERE expires_at <> 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: purge: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of stored entries, expired or not.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM http_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlitestore: count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package state persists the small amount of client state that must
// survive process restarts: the session token.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("record not found")

// tokenKey is the fixed name under which the session token is stored.
const tokenKey = "session_token"

// Store is a durable key-value store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping state store: %w", err)
	}

	// Single connection: one writer, no lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const migration = `
CREATE TABLE IF NOT EXISTS kv (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// SaveToken stores the session token, replacing any previous one.
func (s *Store) SaveToken(ctx context.Context, token string) error {
	return s.set(ctx, tokenKey, token)
}

// LoadToken returns the stored session token, or ErrNotFound.
func (s *Store) LoadToken(ctx context.Context) (string, error) {
	return s.get(ctx, tokenKey)
}

// DeleteToken removes the stored session token. Deleting an absent token
// is not an error.
func (s *Store) DeleteToken(ctx context.Context) error {
	return s.delete(ctx, tokenKey)
}

func (s *Store) set(ctx context.Context, name, value string) error {
	const query = `
		INSERT INTO kv (name, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, name, value); err != nil {
		return fmt.Errorf("failed to store %s: %w", name, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", name, err)
	}
	return value, nil
}

func (s *Store) delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

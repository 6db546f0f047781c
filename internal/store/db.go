// Package store is the SQLite object store holding accounts, messages,
// addresses and contacts.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle.
type DB struct {
	*sql.DB
	Path string
}

// Open opens (or creates) the database at path, applies pragmas and runs
// migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return setup(sqlDB, path)
}

// OpenMemory opens a private in-memory database for tests.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite memory: %w", err)
	}
	return setup(sqlDB, ":memory:")
}

// setup pins the pool to a single connection: pragmas are per connection,
// and each in-memory connection would otherwise be a separate database.
func setup(sqlDB *sql.DB, path string) (*DB, error) {
	sqlDB.SetMaxOpenConns(1)
	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}
	return nil
}

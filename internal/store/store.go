// Package store persists generation history and registered LoRA files in a
// single SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

const busyTimeoutMS = 5000

// Store is safe for concurrent use. SQLite serializes writers; the pool is
// held to one connection so pragmas apply to every statement.
type Store struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// Open creates the database file if needed, applies migrations and returns a
// ready store.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}
	mdb, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateUp(mdb); err != nil {
		return nil, err
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable wal: %w", err)
	}
	if mode != "wal" {
		log.Warn().Str("journal_mode", mode).Msg("sqlite WAL not available")
	}
	log.Debug().Str("path", path).Msg("store opened")
	return &Store{db: db, path: path, log: log}, nil
}

func openDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	return db, nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

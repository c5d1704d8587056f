package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Locker = (*SQLiteStore)(nil)
)

// SQLiteStore keeps slots in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
	// lockPath is empty for in-memory databases.
	lockPath string
}

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
// The connection is limited to one writer to avoid "database is locked" errors.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), DirMode); err != nil {
		return nil, fmt.Errorf("storage: failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", dbPath)
	s, err := openSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}

	// Best effort: tighten permissions on the database file.
	_ = os.Chmod(dbPath, FileMode)
	s.lockPath = dbPath + ".lock"
	return s, nil
}

// NewMemorySQLiteStore opens a private in-memory database, used in tests.
func NewMemorySQLiteStore(ctx context.Context, name string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)
	return openSQLite(ctx, dsn)
}

func openSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: failed to create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Lock serializes read-modify-write cycles on the database file. SQLite
// transactions cover single statements only, and a vault save is a read
// followed by a write.
func (s *SQLiteStore) Lock(ctx context.Context) (func(), error) {
	if s.lockPath == "" {
		return func() {}, nil
	}
	return lockFile(ctx, s.lockPath)
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	const query = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("storage: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: delete %q: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

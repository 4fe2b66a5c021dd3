package localstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLite is a [Storage] backed by a single SQLite table. All public
// methods are safe for concurrent use (SQLite serializes writes).
type SQLite struct {
	db    *sql.DB
	quota int64
}

// Open creates a store at dbPath using the named database/sql driver:
// "sqlite3" (cgo) or "sqlite" (pure Go). quota caps the total bytes of
// stored values; zero means unlimited. The schema is created
// automatically on first use.
func Open(driver, dbPath string, quota int64) (*SQLite, error) {
	dsn := dbPath
	if driver == "sqlite3" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := New(db, quota)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already-open database. The store takes ownership of db.
func New(db *sql.DB, quota int64) (*SQLite, error) {
	// One connection keeps ":memory:" databases coherent and makes the
	// quota check and write atomic with respect to each other.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, quota: quota}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS local_storage (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored value for key.
func (s *SQLite) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key/value and refreshes updated_at. With a quota set, the
// write is refused with [ErrQuotaExceeded] when the new total would
// exceed it.
func (s *SQLite) Set(key, value string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	defer tx.Rollback()

	if s.quota > 0 {
		var others int64
		err := tx.QueryRow(
			`SELECT COALESCE(SUM(length(CAST(value AS BLOB))), 0) FROM local_storage WHERE key <> ?`,
			key,
		).Scan(&others)
		if err != nil {
			return fmt.Errorf("set %s: measure usage: %w", key, err)
		}
		if others+int64(len(value)) > s.quota {
			return fmt.Errorf("set %s: %w", key, ErrQuotaExceeded)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO local_storage (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set %s: commit: %w", key, err)
	}
	return nil
}

// Remove deletes key. No error is returned if the key does not exist.
func (s *SQLite) Remove(key string) error {
	if _, err := s.db.Exec(`DELETE FROM local_storage WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys in sorted order.
func (s *SQLite) Keys() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM local_storage ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

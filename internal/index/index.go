// Package index provides the SQLite-backed fetch-state index: the
// change-tag and timing recorded for every collection and item on its last
// successful fetch. Cache files remain the source of truth for content;
// the index only answers staleness questions without re-reading them.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fetch_state (
	key        TEXT PRIMARY KEY,
	etag       TEXT NOT NULL DEFAULT '',
	fetched_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	bytes      INTEGER NOT NULL DEFAULT 0
);
`

// FetchIndex defines the interface for fetch-state operations. Consumers
// depend on this rather than the concrete *DB to facilitate testing.
type FetchIndex interface {
	Get(key string) (string, error)
	Put(key, etag string, bytes int64) error
	Delete(key string) error
	DeletePrefix(prefix string) error
	AllTags() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies FetchIndex at compile time.
var _ FetchIndex = (*DB)(nil)

// DB wraps a sql.DB with fetch-state operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

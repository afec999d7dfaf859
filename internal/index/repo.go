package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tealfox/shelfsync/internal/apperr"
)

// Key addresses a collection ("scifi") or an item ("scifi/frankenstein")
// in the fetch-state table.
func Key(collectionID string, itemID ...string) string {
	if len(itemID) == 0 {
		return collectionID
	}
	return collectionID + "/" + itemID[0]
}

// Get returns the change-tag recorded for key, or apperr.ErrNotFound.
func (db *DB) Get(key string) (string, error) {
	var etag string
	err := db.conn.QueryRow(`SELECT etag FROM fetch_state WHERE key = ?`, key).Scan(&etag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("index: get %s: %w", key, err)
	}
	return etag, nil
}

// Put records a successful fetch of key.
func (db *DB) Put(key, etag string, bytes int64) error {
	_, err := db.conn.Exec(`
		INSERT INTO fetch_state (key, etag, fetched_at, bytes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			etag       = excluded.etag,
			fetched_at = excluded.fetched_at,
			bytes      = excluded.bytes
	`, key, etag, time.Now().UTC(), bytes)
	if err != nil {
		return fmt.Errorf("index: put %s: %w", key, err)
	}
	return nil
}

// Delete removes the fetch state for key.
func (db *DB) Delete(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM fetch_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index: delete %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes the fetch state for a collection and all of its items.
func (db *DB) DeletePrefix(prefix string) error {
	_, err := db.conn.Exec(`DELETE FROM fetch_state WHERE key = ? OR key LIKE ?`, prefix, prefix+"/%")
	if err != nil {
		return fmt.Errorf("index: delete prefix %s: %w", prefix, err)
	}
	return nil
}

// AllTags returns every recorded key → change-tag pair.
func (db *DB) AllTags() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT key, etag FROM fetch_state`)
	if err != nil {
		return nil, fmt.Errorf("index: all tags: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, etag string
		if err := rows.Scan(&key, &etag); err != nil {
			return nil, fmt.Errorf("index: scan: %w", err)
		}
		out[key] = etag
	}
	return out, rows.Err()
}

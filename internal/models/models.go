// Package models defines the domain types for shelfsync.
package models

import "time"

// RawRecord is a remote metadata record before normalization. Every field
// may be absent, a scalar, or an array; the normalize package flattens it
// into the strict shapes below.
type RawRecord map[string]any

// Overlay is a partial record authored locally for one item. Its fields
// take precedence over remote-sourced fields during the deep merge that
// produces the cached Item.
type Overlay map[string]any

// Collection is a cached bibliographic collection.
type Collection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	ItemIDs     []string  `json:"item_ids"`
	SyncedAt    time.Time `json:"synced_at"`
}

// Item is a cached, normalized bibliographic item. All string fields are
// already in strict form: polymorphic remote values have been flattened,
// so an Item read back from the cache needs no further conversion at
// export time.
type Item struct {
	ID           string   `json:"id"`
	CollectionID string   `json:"collection_id"`
	Title        string   `json:"title"`
	Creator      string   `json:"creator,omitempty"`
	Description  string   `json:"description,omitempty"`
	Date         string   `json:"date,omitempty"`
	Year         int      `json:"year,omitempty"`
	Language     string   `json:"language,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Files        []string `json:"files,omitempty"`
	CoverURL     string   `json:"cover_url,omitempty"`
	CoverWidth   int      `json:"cover_width,omitempty"`
	CoverHeight  int      `json:"cover_height,omitempty"`

	// Custom marks an item not sourced from the remote repository at all.
	// Custom items are synthesized from their overlay and never fetched.
	Custom bool `json:"custom,omitempty"`
}

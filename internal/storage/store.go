// Package storage defines the cache store abstraction: durable,
// file-addressed storage of collection and item records plus cover assets.
package storage

import "github.com/tealfox/shelfsync/internal/models"

// Store is the interface for cache store operations. The on-disk layout is
// one directory per collection holding a collection record, with one
// subdirectory per item holding its record, its cover asset, and an
// optional overlay record.
type Store interface {
	// ListCollections returns the IDs of every cached collection.
	ListCollections() ([]string, error)
	// ReadCollection returns the cached collection record.
	ReadCollection(id string) (*models.Collection, error)
	// WriteCollection atomically writes the collection record.
	WriteCollection(c *models.Collection) error
	// DeleteCollection removes the collection and all of its items.
	DeleteCollection(id string) error

	// ListItems returns the IDs of every cached item in a collection.
	ListItems(collectionID string) ([]string, error)
	// ReadItem returns the cached item record.
	ReadItem(collectionID, itemID string) (*models.Item, error)
	// WriteItem atomically writes the item record.
	WriteItem(it *models.Item) error
	// DeleteItem removes the item directory, cover and overlay included.
	DeleteItem(collectionID, itemID string) error

	// ReadOverlay returns the item's overlay record, or apperr.ErrNotFound
	// when none has been authored.
	ReadOverlay(collectionID, itemID string) (models.Overlay, error)
	// WriteOverlay atomically writes the item's overlay record.
	WriteOverlay(collectionID, itemID string, o models.Overlay) error

	// WriteCover atomically writes the item's cover asset with the given
	// file extension, replacing any previously cached cover.
	WriteCover(collectionID, itemID, ext string, data []byte) error
	// ReadCover returns the cached cover bytes and its file extension, or
	// apperr.ErrNotFound when the item has no cover.
	ReadCover(collectionID, itemID string) ([]byte, string, error)

	// Root returns the absolute path of the cache directory.
	Root() string
}

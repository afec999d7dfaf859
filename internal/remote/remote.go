// Package remote abstracts retrieval of collection and item metadata and
// cover assets from the remote content repository. Any adapter satisfying
// Adapter is pluggable without touching the pipeline core.
package remote

import (
	"context"

	"github.com/tealfox/shelfsync/internal/models"
)

// Adapter is the fetch contract against the remote repository.
type Adapter interface {
	// SearchItems returns the identifiers matching a remote query.
	SearchItems(ctx context.Context, query string) ([]string, error)

	// GetItemMetadata returns the raw item record and its change-tag.
	// When etag is non-empty the request is conditional: an unchanged
	// record yields apperr.ErrNotModified without a body download.
	GetItemMetadata(ctx context.Context, id, etag string) (models.RawRecord, string, error)

	// GetCollectionMetadata returns the raw collection record and its
	// change-tag.
	GetCollectionMetadata(ctx context.Context, id string) (models.RawRecord, string, error)

	// Head returns the current change-tag for id without fetching the
	// record. ok is false when the adapter has no cheap freshness check;
	// callers must then treat the entry as possibly stale.
	Head(ctx context.Context, id string) (etag string, ok bool, err error)

	// FetchAsset downloads an asset by URL.
	FetchAsset(ctx context.Context, url string) ([]byte, error)
}

// Package importer orchestrates the cache/import stage: fetch-or-skip
// decisions per item, overlay merging, cover downloads, and whitelist
// pruning. Every record write is atomic, so a run interrupted mid-fetch
// leaves a smaller-than-complete set of updated records that the next run
// naturally completes.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/checksum"
	"github.com/tealfox/shelfsync/internal/index"
	"github.com/tealfox/shelfsync/internal/models"
	"github.com/tealfox/shelfsync/internal/normalize"
	"github.com/tealfox/shelfsync/internal/receipt"
	"github.com/tealfox/shelfsync/internal/remote"
	"github.com/tealfox/shelfsync/internal/resolver"
	"github.com/tealfox/shelfsync/internal/storage"
)

// Engine is the import engine for one pipeline run.
type Engine struct {
	store       storage.Store
	idx         index.FetchIndex
	adapter     remote.Adapter
	rcpt        *receipt.Receipt
	logger      *slog.Logger
	concurrency int

	// Force bypasses change-tag checks and re-downloads everything.
	Force bool
}

// New creates an import engine. concurrency bounds the item worker pool.
func New(store storage.Store, idx index.FetchIndex, adapter remote.Adapter, rcpt *receipt.Receipt, logger *slog.Logger, concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		store:       store,
		idx:         idx,
		adapter:     adapter,
		rcpt:        rcpt,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Run processes every whitelisted collection, then prunes cache entries
// the whitelist no longer covers. A per-item failure is recorded in the
// receipt and the run continues; a collection-metadata failure aborts only
// that collection; a local I/O failure aborts the phase.
func (e *Engine) Run(ctx context.Context, plan *resolver.Plan) error {
	for _, cp := range plan.Collections {
		if err := e.processCollection(ctx, cp); err != nil {
			if apperr.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			e.rcpt.AddError(cp.ID, err)
			e.logger.Warn("import: collection aborted",
				slog.String("collection", cp.ID), slog.String("error", err.Error()))
		}
	}
	return e.prune(plan)
}

// processCollection refreshes the collection record and fans item work out
// to the bounded worker pool. Items of one collection may write
// concurrently: every item owns its own subdirectory.
func (e *Engine) processCollection(ctx context.Context, cp resolver.CollectionPlan) error {
	raw, _, err := e.adapter.GetCollectionMetadata(ctx, cp.ID)
	if err != nil {
		return fmt.Errorf("collection metadata: %w", err)
	}
	rec, err := normalize.Record(raw, normalize.CollectionSchema)
	if err != nil {
		return err
	}

	coll := &models.Collection{
		ID:          cp.ID,
		Name:        asString(rec["title"]),
		Description: asString(rec["description"]),
		Tags:        asList(rec["subject"]),
		ItemIDs:     cp.Items,
		SyncedAt:    time.Now().UTC(),
	}
	if coll.Name == "" {
		coll.Name = cp.ID
	}
	// Rewriting an unchanged record would only move synced_at, so an
	// unchanged run keeps the prior record byte for byte.
	if prev, err := e.store.ReadCollection(cp.ID); err != nil || !collectionsEqual(prev, coll) {
		if err := e.store.WriteCollection(coll); err != nil {
			return apperr.Fatal("write collection %s: %v", cp.ID, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, itemID := range cp.ToFetch {
		itemID := itemID
		g.Go(func() error {
			err := e.processItem(gctx, cp.ID, itemID)
			if err == nil {
				return nil
			}
			if apperr.IsFatal(err) || gctx.Err() != nil {
				return err
			}
			e.rcpt.AddError(index.Key(cp.ID, itemID), err)
			e.logger.Warn("import: item failed",
				slog.String("item", index.Key(cp.ID, itemID)), slog.String("error", err.Error()))
			return nil
		})
	}
	for range cp.ToKeep {
		e.rcpt.AddUnchanged()
	}
	return g.Wait()
}

// processItem brings one item up to date. Custom items are synthesized
// from their overlay without a remote call.
func (e *Engine) processItem(ctx context.Context, collID, itemID string) error {
	key := index.Key(collID, itemID)

	overlay, err := e.store.ReadOverlay(collID, itemID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return apperr.Fatal("read overlay %s: %v", key, err)
	}
	if custom, _ := overlay["custom"].(bool); custom {
		return e.synthesizeCustom(collID, itemID, overlay)
	}

	// A conditional fetch only makes sense when both the tag and the
	// cached record survive from the previous run.
	cachedTag := ""
	if !e.Force {
		if t, err := e.idx.Get(key); err == nil {
			if _, err := e.store.ReadItem(collID, itemID); err == nil {
				cachedTag = t
			}
		}
	}

	raw, tag, err := e.adapter.GetItemMetadata(ctx, itemID, cachedTag)
	if errors.Is(err, apperr.ErrNotModified) {
		e.rcpt.AddUnchanged()
		return nil
	}
	if err != nil {
		return err
	}

	rec, err := normalize.Record(raw, normalize.ItemSchema)
	if err != nil {
		return err
	}
	if len(overlay) > 0 {
		merged := mergeRecords(rec, overlay)
		delete(merged, "custom")
		// Overlay values may be loosely typed; the rules are idempotent,
		// so re-normalizing the merged record keeps it strict.
		if rec, err = normalize.Record(merged, normalize.ItemSchema); err != nil {
			return err
		}
	}
	item := itemFromRecord(collID, itemID, rec, false)

	var assetBytes int64
	if item.CoverURL != "" {
		assetBytes, err = e.ensureCover(ctx, item)
		if err != nil {
			return err
		}
	}

	if err := e.store.WriteItem(item); err != nil {
		return apperr.Fatal("write item %s: %v", key, err)
	}
	if err := e.idx.Put(key, tag, assetBytes); err != nil {
		return apperr.Fatal("index item %s: %v", key, err)
	}
	e.rcpt.AddFetched(assetBytes)
	e.logger.Debug("import: fetched", slog.String("item", key))
	return nil
}

// ensureCover downloads the item's cover asset, measures it, and stores
// it. Returns the number of bytes downloaded.
func (e *Engine) ensureCover(ctx context.Context, item *models.Item) (int64, error) {
	data, err := e.adapter.FetchAsset(ctx, item.CoverURL)
	if err != nil {
		return 0, fmt.Errorf("fetch cover: %w", err)
	}
	w, h, err := measureCover(data)
	if err != nil {
		return 0, err
	}
	item.CoverWidth, item.CoverHeight = w, h
	ext := coverExt(item.CoverURL, data)
	if err := e.store.WriteCover(item.CollectionID, item.ID, ext, data); err != nil {
		return 0, apperr.Fatal("write cover %s/%s: %v", item.CollectionID, item.ID, err)
	}
	return int64(len(data)), nil
}

// synthesizeCustom builds a custom item purely from its overlay. The
// change-tag is a digest of the synthesized record, so an unedited overlay
// is a no-op on the next run.
func (e *Engine) synthesizeCustom(collID, itemID string, overlay models.Overlay) error {
	key := index.Key(collID, itemID)

	fields := make(map[string]any, len(overlay))
	for k, v := range overlay {
		if k != "custom" {
			fields[k] = v
		}
	}
	rec, err := normalize.Record(fields, normalize.ItemSchema)
	if err != nil {
		return err
	}
	item := itemFromRecord(collID, itemID, rec, true)

	// A custom item's cover is authored directly into its cache
	// directory; measure it when present.
	if data, _, err := e.store.ReadCover(collID, itemID); err == nil {
		if w, h, err := measureCover(data); err == nil {
			item.CoverWidth, item.CoverHeight = w, h
		}
	}

	encoded, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode custom item %s: %w", key, err)
	}
	tag := checksum.Tag(encoded)
	if prev, err := e.idx.Get(key); err == nil && prev == tag {
		if _, err := e.store.ReadItem(collID, itemID); err == nil {
			e.rcpt.AddUnchanged()
			return nil
		}
	}

	if err := e.store.WriteItem(item); err != nil {
		return apperr.Fatal("write custom item %s: %v", key, err)
	}
	if err := e.idx.Put(key, tag, 0); err != nil {
		return apperr.Fatal("index custom item %s: %v", key, err)
	}
	e.rcpt.AddCustom()
	return nil
}

// prune deletes every cache entry the whitelist no longer covers.
func (e *Engine) prune(plan *resolver.Plan) error {
	for _, ref := range plan.RemoveItems {
		if err := e.store.DeleteItem(ref.Collection, ref.Item); err != nil {
			return apperr.Fatal("prune item %s/%s: %v", ref.Collection, ref.Item, err)
		}
		if err := e.idx.Delete(index.Key(ref.Collection, ref.Item)); err != nil {
			return apperr.Fatal("prune index %s/%s: %v", ref.Collection, ref.Item, err)
		}
		e.rcpt.AddRemoved()
		e.logger.Info("import: removed item",
			slog.String("item", index.Key(ref.Collection, ref.Item)))
	}
	for _, collID := range plan.RemoveCollections {
		if err := e.store.DeleteCollection(collID); err != nil {
			return apperr.Fatal("prune collection %s: %v", collID, err)
		}
		if err := e.idx.DeletePrefix(collID); err != nil {
			return apperr.Fatal("prune index prefix %s: %v", collID, err)
		}
		e.rcpt.AddRemoved()
		e.logger.Info("import: removed collection", slog.String("collection", collID))
	}
	return nil
}

// collectionsEqual compares everything but the sync timestamp.
func collectionsEqual(a, b *models.Collection) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Description == b.Description &&
		slices.Equal(a.Tags, b.Tags) &&
		slices.Equal(a.ItemIDs, b.ItemIDs)
}

// itemFromRecord maps a normalized record onto the strict item shape.
func itemFromRecord(collID, itemID string, rec map[string]any, custom bool) *models.Item {
	return &models.Item{
		ID:           itemID,
		CollectionID: collID,
		Title:        asString(rec["title"]),
		Creator:      asString(rec["creator"]),
		Description:  asString(rec["description"]),
		Date:         asString(rec["date"]),
		Year:         asInt(rec["year"]),
		Language:     asString(rec["language"]),
		Tags:         asList(rec["subject"]),
		Files:        asList(rec["files"]),
		CoverURL:     asString(rec["cover"]),
		Custom:       custom,
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asList(v any) []string {
	l, _ := v.([]string)
	return l
}

func asInt(v any) int {
	n, _ := v.(int)
	return n
}

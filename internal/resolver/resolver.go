// Package resolver computes the work plan for one import run: which
// whitelisted entries must be fetched, which cached entries are fresh, and
// which cached entries the whitelist no longer covers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/index"
	"github.com/tealfox/shelfsync/internal/manifest"
	"github.com/tealfox/shelfsync/internal/remote"
	"github.com/tealfox/shelfsync/internal/storage"
)

// ItemRef addresses one cached item.
type ItemRef struct {
	Collection string
	Item       string
}

// CollectionPlan is the item-level work for one whitelisted collection.
// Items holds the resolved whitelist in manifest order (itemsIndex plus
// any remote-search matches); ToFetch and ToKeep partition it.
type CollectionPlan struct {
	ID      string
	Items   []string
	ToFetch []string
	ToKeep  []string
}

// Plan is the resolved work for one run. Collections preserves manifest
// order so downstream output is deterministic.
type Plan struct {
	Collections       []CollectionPlan
	RemoveCollections []string
	RemoveItems       []ItemRef
}

// Resolver classifies cache state against the manifest.
type Resolver struct {
	store   storage.Store
	idx     index.FetchIndex
	adapter remote.Adapter
	logger  *slog.Logger

	// Force bypasses change-tag checks: every whitelisted item is fetched.
	Force bool
}

// New creates a resolver over the given cache state and remote adapter.
func New(store storage.Store, idx index.FetchIndex, adapter remote.Adapter, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, idx: idx, adapter: adapter, logger: logger}
}

// Resolve computes the plan for manifest m. Removal is driven purely by
// whitelist membership; change-tags play no part in it.
func (r *Resolver) Resolve(ctx context.Context, m *manifest.Manifest) (*Plan, error) {
	plan := &Plan{}

	tags, err := r.idx.AllTags()
	if err != nil {
		return nil, err
	}

	for _, collID := range m.CollectionsIndex {
		items, err := r.resolveItems(ctx, m, collID)
		if err != nil {
			return nil, err
		}
		cp := CollectionPlan{ID: collID, Items: items}

		for _, itemID := range items {
			if r.classifyFetch(ctx, collID, itemID, tags) {
				cp.ToFetch = append(cp.ToFetch, itemID)
			} else {
				cp.ToKeep = append(cp.ToKeep, itemID)
			}
		}
		plan.Collections = append(plan.Collections, cp)
	}

	// Anything cached but not whitelisted is eligible for removal.
	cached, err := r.store.ListCollections()
	if err != nil {
		return nil, err
	}
	for _, collID := range cached {
		if !m.IncludesCollection(collID) {
			plan.RemoveCollections = append(plan.RemoveCollections, collID)
			continue
		}
		wanted := make(map[string]struct{})
		for _, cp := range plan.Collections {
			if cp.ID != collID {
				continue
			}
			for _, it := range cp.Items {
				wanted[it] = struct{}{}
			}
		}
		cachedItems, err := r.store.ListItems(collID)
		if err != nil {
			return nil, err
		}
		for _, itemID := range cachedItems {
			if _, ok := wanted[itemID]; !ok {
				plan.RemoveItems = append(plan.RemoveItems, ItemRef{Collection: collID, Item: itemID})
			}
		}
	}

	return plan, nil
}

// resolveItems unions the manifest item list with remote-search matches
// when the collection declares a query. Search results never reorder the
// explicit list; new matches are appended in the order the remote returns.
func (r *Resolver) resolveItems(ctx context.Context, m *manifest.Manifest, collID string) ([]string, error) {
	c := m.Collections[collID]
	items := append([]string(nil), c.ItemsIndex...)
	if c.Query == "" {
		return items, nil
	}

	found, err := r.adapter.SearchItems(ctx, c.Query)
	if err != nil {
		return nil, fmt.Errorf("resolver: search %q for collection %s: %w", c.Query, collID, err)
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		seen[it] = struct{}{}
	}
	for _, it := range found {
		if _, ok := seen[it]; !ok {
			items = append(items, it)
			seen[it] = struct{}{}
		}
	}
	return items, nil
}

// classifyFetch reports whether the item needs importer attention. Custom
// items always go through the importer, which synthesizes them locally
// without a remote call.
func (r *Resolver) classifyFetch(ctx context.Context, collID, itemID string, tags map[string]string) bool {
	if r.Force {
		return true
	}

	if o, err := r.store.ReadOverlay(collID, itemID); err == nil {
		if custom, _ := o["custom"].(bool); custom {
			return true
		}
	}

	cachedTag, ok := tags[index.Key(collID, itemID)]
	if !ok || cachedTag == "" {
		return true
	}
	if _, err := r.store.ReadItem(collID, itemID); err != nil {
		// Index row without a cache record, likely an interrupted run.
		return true
	}

	currentTag, headOK, err := r.adapter.Head(ctx, itemID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Gone upstream; let the importer record the failure.
			return true
		}
		r.logger.Warn("resolver: head check failed, treating as stale",
			slog.String("item", itemID), slog.String("error", err.Error()))
		return true
	}
	if !headOK {
		// No cheap freshness check; the importer re-validates with a
		// conditional fetch before downloading the body.
		return true
	}
	return currentTag != cachedTag
}

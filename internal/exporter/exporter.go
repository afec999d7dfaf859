// Package exporter assembles the export package: a consolidated index of
// all whitelisted collections and items, per-collection item-ID listings,
// and the referenced cover assets. The package is fully rebuilt from the
// cache on every run, in manifest order, so repeated exports of the same
// cache are byte-identical.
package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/manifest"
	"github.com/tealfox/shelfsync/internal/models"
	"github.com/tealfox/shelfsync/internal/receipt"
	"github.com/tealfox/shelfsync/internal/storage"
)

const (
	indexFile       = "index.json"
	collectionsFile = "collections.json"
	itemsFile       = "items.json"
	coversDir       = "covers"
)

// ExportCollection is one collection in the consolidated index, with its
// whitelisted items attached inline.
type ExportCollection struct {
	models.Collection
	Items []models.Item `json:"items"`
}

// ConsolidatedIndex is the single document the rendering client reads.
type ConsolidatedIndex struct {
	Collections []ExportCollection `json:"collections"`
}

// Engine is the export engine for one pipeline run.
type Engine struct {
	store  storage.Store
	rcpt   *receipt.Receipt
	logger *slog.Logger
}

// New creates an export engine.
func New(store storage.Store, rcpt *receipt.Receipt, logger *slog.Logger) *Engine {
	return &Engine{store: store, rcpt: rcpt, logger: logger}
}

// Run writes the export package for manifest m into outDir. Destructive
// mode clears outDir first so the package exactly mirrors the whitelist;
// otherwise pre-existing unrelated files are left untouched. The export
// never writes back into the cache.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest, outDir string, destructive bool) error {
	if destructive {
		if err := os.RemoveAll(outDir); err != nil {
			return apperr.Fatal("export: clear output dir: %v", err)
		}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return apperr.Fatal("export: create output dir: %v", err)
	}

	idx := ConsolidatedIndex{Collections: []ExportCollection{}}
	for _, collID := range m.CollectionsIndex {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ec, err := e.exportCollection(collID, outDir)
		if err != nil {
			return err
		}
		if ec != nil {
			idx.Collections = append(idx.Collections, *ec)
		}
	}

	if err := writeJSON(filepath.Join(outDir, collectionsFile), m.CollectionsIndex); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(outDir, indexFile), idx); err != nil {
		return err
	}

	e.logger.Info("export: package written",
		slog.String("dir", outDir), slog.Int("collections", len(idx.Collections)))
	return nil
}

// exportCollection assembles one collection and copies its covers. A
// whitelisted entry missing from the cache is a receipt warning, not a
// failure: the cache may legitimately trail the manifest after a partial
// import.
func (e *Engine) exportCollection(collID, outDir string) (*ExportCollection, error) {
	coll, err := e.store.ReadCollection(collID)
	if errors.Is(err, apperr.ErrNotFound) {
		e.rcpt.AddWarning(fmt.Sprintf("collection %s in manifest but not cached", collID))
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Fatal("export: read collection %s: %v", collID, err)
	}

	// The cached collection's membership is the resolved whitelist: the
	// listed IDs plus whatever the collection's query matched at import
	// time. Exporting from it keeps query-sourced items in the package.
	ec := &ExportCollection{Collection: *coll, Items: []models.Item{}}
	itemIDs := []string{}
	for _, itemID := range coll.ItemIDs {
		it, err := e.store.ReadItem(collID, itemID)
		if errors.Is(err, apperr.ErrNotFound) {
			e.rcpt.AddWarning(fmt.Sprintf("item %s/%s whitelisted but not cached", collID, itemID))
			continue
		}
		if err != nil {
			return nil, apperr.Fatal("export: read item %s/%s: %v", collID, itemID, err)
		}
		if err := e.copyCover(collID, itemID, outDir); err != nil {
			return nil, err
		}
		ec.Items = append(ec.Items, *it)
		itemIDs = append(itemIDs, itemID)
		e.rcpt.AddExported()
	}

	// Membership in the export reflects what was actually included.
	ec.ItemIDs = itemIDs
	if err := writeJSON(filepath.Join(outDir, collID, itemsFile), itemIDs); err != nil {
		return nil, err
	}
	return ec, nil
}

// copyCover mirrors the cached cover under covers/<collection>/. Only
// cover assets are copied; the consumer needs nothing else from the cache.
func (e *Engine) copyCover(collID, itemID, outDir string) error {
	data, ext, err := e.store.ReadCover(collID, itemID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Fatal("export: read cover %s/%s: %v", collID, itemID, err)
	}
	dst := filepath.Join(outDir, coversDir, collID, itemID+ext)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.Fatal("export: mkdir covers: %v", err)
	}
	if err := writeAtomic(dst, data); err != nil {
		return apperr.Fatal("export: copy cover %s/%s: %v", collID, itemID, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.Fatal("export: encode %s: %v", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Fatal("export: mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := writeAtomic(path, append(data, '\n')); err != nil {
		return apperr.Fatal("export: write %s: %v", path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".shelfsync-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	success = true
	return nil
}

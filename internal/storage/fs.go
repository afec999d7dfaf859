package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/models"
)

const (
	collectionFile = "collection.json"
	itemFile       = "item.json"
	overlayFile    = "overlay.json"
	coverBase      = "cover"
)

// FS implements Store backed by the local file system.
type FS struct {
	root string // absolute path to cache directory
}

// NewFS creates a new FS store rooted at the given directory, creating it
// if necessary.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute cache directory path.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the cache root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(parts ...string) (string, error) {
	rel := filepath.Join(parts...)
	cleaned := filepath.Clean(rel)
	if cleaned == "" || cleaned == "." {
		return f.root, nil
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes cache root: %s", rel)
	}
	return abs, nil
}

// writeAtomic writes content via tmp file → fsync → rename.
func (f *FS) writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".shelfsync-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
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

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

func (f *FS) readJSON(target any, parts ...string) error {
	abs, err := f.safePath(parts...)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage: read %s: %w", filepath.Join(parts...), err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("storage: decode %s: %w", filepath.Join(parts...), err)
	}
	return nil
}

func (f *FS) writeJSON(v any, parts ...string) error {
	abs, err := f.safePath(parts...)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", filepath.Join(parts...), err)
	}
	return f.writeAtomic(abs, append(data, '\n'))
}

// ListCollections returns the ID of every directory holding a collection record.
func (f *FS) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list collections: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(f.root, e.Name(), collectionFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ReadCollection returns the cached collection record.
func (f *FS) ReadCollection(id string) (*models.Collection, error) {
	var c models.Collection
	if err := f.readJSON(&c, id, collectionFile); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteCollection atomically writes the collection record.
func (f *FS) WriteCollection(c *models.Collection) error {
	return f.writeJSON(c, c.ID, collectionFile)
}

// DeleteCollection removes the collection directory and everything below it.
func (f *FS) DeleteCollection(id string) error {
	abs, err := f.safePath(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("storage: delete collection %s: %w", id, err)
	}
	return nil
}

// ListItems returns the ID of every item subdirectory holding an item record.
func (f *FS) ListItems(collectionID string) ([]string, error) {
	base, err := f.safePath(collectionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list items %s: %w", collectionID, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(base, e.Name(), itemFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ReadItem returns the cached item record.
func (f *FS) ReadItem(collectionID, itemID string) (*models.Item, error) {
	var it models.Item
	if err := f.readJSON(&it, collectionID, itemID, itemFile); err != nil {
		return nil, err
	}
	return &it, nil
}

// WriteItem atomically writes the item record.
func (f *FS) WriteItem(it *models.Item) error {
	return f.writeJSON(it, it.CollectionID, it.ID, itemFile)
}

// DeleteItem removes the item directory, cover and overlay included.
func (f *FS) DeleteItem(collectionID, itemID string) error {
	abs, err := f.safePath(collectionID, itemID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("storage: delete item %s/%s: %w", collectionID, itemID, err)
	}
	return nil
}

// ReadOverlay returns the item's overlay record.
func (f *FS) ReadOverlay(collectionID, itemID string) (models.Overlay, error) {
	var o models.Overlay
	if err := f.readJSON(&o, collectionID, itemID, overlayFile); err != nil {
		return nil, err
	}
	return o, nil
}

// WriteOverlay atomically writes the item's overlay record.
func (f *FS) WriteOverlay(collectionID, itemID string, o models.Overlay) error {
	return f.writeJSON(o, collectionID, itemID, overlayFile)
}

// WriteCover atomically writes the item's cover asset, removing any cover
// previously cached under a different extension.
func (f *FS) WriteCover(collectionID, itemID, ext string, data []byte) error {
	if ext == "" || !strings.HasPrefix(ext, ".") {
		return fmt.Errorf("storage: invalid cover extension %q", ext)
	}
	if old, oldExt, err := f.coverPath(collectionID, itemID); err == nil && oldExt != ext {
		_ = os.Remove(old)
	}
	abs, err := f.safePath(collectionID, itemID, coverBase+ext)
	if err != nil {
		return err
	}
	return f.writeAtomic(abs, data)
}

// ReadCover returns the cached cover bytes and extension.
func (f *FS) ReadCover(collectionID, itemID string) ([]byte, string, error) {
	abs, ext, err := f.coverPath(collectionID, itemID)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, "", fmt.Errorf("storage: read cover %s/%s: %w", collectionID, itemID, err)
	}
	return data, ext, nil
}

// coverPath locates the cover file regardless of its extension.
func (f *FS) coverPath(collectionID, itemID string) (string, string, error) {
	base, err := f.safePath(collectionID, itemID)
	if err != nil {
		return "", "", err
	}
	matches, err := filepath.Glob(filepath.Join(base, coverBase+".*"))
	if err != nil || len(matches) == 0 {
		return "", "", apperr.ErrNotFound
	}
	return matches[0], filepath.Ext(matches[0]), nil
}

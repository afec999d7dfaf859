// Package testutil provides shared test helpers: temporary cache stores,
// fetch-state indexes, an in-memory remote adapter, and encoded test covers.
package testutil

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"

	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/index"
	"github.com/tealfox/shelfsync/internal/models"
	"github.com/tealfox/shelfsync/internal/remote"
	"github.com/tealfox/shelfsync/internal/storage"
)

// TestStore creates a temporary cache store that is automatically cleaned up.
func TestStore(t *testing.T) *storage.FS {
	t.Helper()
	store, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// TestIndex creates a temporary SQLite fetch-state index.
func TestIndex(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "shelfsync-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// PNG returns an encoded PNG of the given dimensions.
func PNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// FakeRemote is an in-memory remote.Adapter for pipeline tests.
type FakeRemote struct {
	mu sync.Mutex

	Items       map[string]models.RawRecord
	ItemTags    map[string]string
	Collections map[string]models.RawRecord
	Assets      map[string][]byte
	Searches    map[string][]string

	// HeadOK controls whether the adapter offers a cheap freshness check.
	HeadOK bool
	// ItemErr forces an error for specific item IDs.
	ItemErr map[string]error

	// Call counters for fetch-or-skip assertions.
	MetadataCalls int
	AssetCalls    int
}

// Verify FakeRemote satisfies remote.Adapter at compile time.
var _ remote.Adapter = (*FakeRemote)(nil)

// NewFakeRemote creates an empty fake with head checks enabled.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		Items:       make(map[string]models.RawRecord),
		ItemTags:    make(map[string]string),
		Collections: make(map[string]models.RawRecord),
		Assets:      make(map[string][]byte),
		Searches:    make(map[string][]string),
		ItemErr:     make(map[string]error),
		HeadOK:      true,
	}
}

// SetItem registers an item record under the given change-tag.
func (f *FakeRemote) SetItem(id, tag string, rec models.RawRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Items[id] = rec
	f.ItemTags[id] = tag
}

func (f *FakeRemote) SearchItems(_ context.Context, query string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Searches[query], nil
}

func (f *FakeRemote) GetItemMetadata(_ context.Context, id, etag string) (models.RawRecord, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MetadataCalls++
	if err := f.ItemErr[id]; err != nil {
		return nil, "", err
	}
	rec, ok := f.Items[id]
	if !ok {
		return nil, "", apperr.ErrNotFound
	}
	tag := f.ItemTags[id]
	if etag != "" && etag == tag {
		return nil, "", apperr.ErrNotModified
	}
	return rec, tag, nil
}

func (f *FakeRemote) GetCollectionMetadata(_ context.Context, id string) (models.RawRecord, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.Collections[id]
	if !ok {
		return nil, "", apperr.ErrNotFound
	}
	return rec, "", nil
}

func (f *FakeRemote) Head(_ context.Context, id string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.HeadOK {
		return "", false, nil
	}
	tag, ok := f.ItemTags[id]
	if !ok {
		return "", false, apperr.ErrNotFound
	}
	return tag, true, nil
}

func (f *FakeRemote) FetchAsset(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AssetCalls++
	data, ok := f.Assets[url]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return data, nil
}

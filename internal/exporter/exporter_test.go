package exporter

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tealfox/shelfsync/internal/manifest"
	"github.com/tealfox/shelfsync/internal/models"
	"github.com/tealfox/shelfsync/internal/receipt"
	"github.com/tealfox/shelfsync/internal/storage"
	"github.com/tealfox/shelfsync/internal/testutil"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T) *storage.FS {
	t.Helper()
	store := testutil.TestStore(t)
	if err := store.WriteCollection(&models.Collection{
		ID: "scifi", Name: "Science Fiction", ItemIDs: []string{"a", "b"},
	}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b"} {
		if err := store.WriteItem(&models.Item{ID: id, CollectionID: "scifi", Title: "Item " + id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.WriteCover("scifi", "a", ".png", testutil.PNG(t, 4, 4)); err != nil {
		t.Fatal(err)
	}
	return store
}

func scifiManifest() *manifest.Manifest {
	return &manifest.Manifest{
		CollectionsIndex: []string{"scifi"},
		Collections:      map[string]manifest.Collection{"scifi": {ItemsIndex: []string{"a", "b"}}},
	}
}

func TestExportPackageLayout(t *testing.T) {
	store := seededStore(t)
	rcpt := receipt.New()
	out := t.TempDir()

	if err := New(store, rcpt, discard()).Run(context.Background(), scifiManifest(), out, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ids []string
	mustDecode(t, filepath.Join(out, "collections.json"), &ids)
	if !reflect.DeepEqual(ids, []string{"scifi"}) {
		t.Errorf("collections.json = %v", ids)
	}

	var idx ConsolidatedIndex
	mustDecode(t, filepath.Join(out, "index.json"), &idx)
	if len(idx.Collections) != 1 || len(idx.Collections[0].Items) != 2 {
		t.Fatalf("index = %+v", idx)
	}
	if idx.Collections[0].Items[0].Title != "Item a" {
		t.Errorf("item title = %q", idx.Collections[0].Items[0].Title)
	}

	var items []string
	mustDecode(t, filepath.Join(out, "scifi", "items.json"), &items)
	if !reflect.DeepEqual(items, []string{"a", "b"}) {
		t.Errorf("items.json = %v", items)
	}

	if _, err := os.Stat(filepath.Join(out, "covers", "scifi", "a.png")); err != nil {
		t.Errorf("cover not copied: %v", err)
	}
	// b has no cover; nothing should be copied for it.
	if _, err := os.Stat(filepath.Join(out, "covers", "scifi", "b.png")); err == nil {
		t.Error("unexpected cover for b")
	}

	if rcpt.Exported != 2 {
		t.Errorf("exported = %d", rcpt.Exported)
	}
}

// Repeated exports of an unchanged cache must be byte-identical.
func TestExportDeterministic(t *testing.T) {
	store := seededStore(t)
	m := scifiManifest()

	out1 := t.TempDir()
	out2 := t.TempDir()
	if err := New(store, receipt.New(), discard()).Run(context.Background(), m, out1, false); err != nil {
		t.Fatal(err)
	}
	if err := New(store, receipt.New(), discard()).Run(context.Background(), m, out2, false); err != nil {
		t.Fatal(err)
	}

	first, err := os.ReadFile(filepath.Join(out1, "index.json"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(filepath.Join(out2, "index.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("consolidated index differs between identical exports")
	}
}

// A whitelisted item missing from the cache is a warning, not a failure,
// and the export membership reflects what was actually included. The
// cached collection record may legitimately name items a partial import
// never wrote.
func TestExportMissingItemWarns(t *testing.T) {
	store := testutil.TestStore(t)
	if err := store.WriteCollection(&models.Collection{
		ID: "scifi", Name: "Science Fiction", ItemIDs: []string{"a", "ghost"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteItem(&models.Item{ID: "a", CollectionID: "scifi", Title: "Item a"}); err != nil {
		t.Fatal(err)
	}

	rcpt := receipt.New()
	out := t.TempDir()
	if err := New(store, rcpt, discard()).Run(context.Background(), scifiManifest(), out, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rcpt.Warnings) != 1 {
		t.Errorf("warnings = %v", rcpt.Warnings)
	}
	var idx ConsolidatedIndex
	mustDecode(t, filepath.Join(out, "index.json"), &idx)
	if got := idx.Collections[0].ItemIDs; !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("membership = %v, want only cached items", got)
	}
}

// Items pulled in by a collection query are cached and recorded in the
// collection's membership but never appear in the manifest's itemsIndex;
// the export must still include them.
func TestExportIncludesQuerySourcedItems(t *testing.T) {
	store := seededStore(t)
	// As the importer leaves it after resolving query -> drac.
	if err := store.WriteCollection(&models.Collection{
		ID: "scifi", Name: "Science Fiction", ItemIDs: []string{"a", "b", "drac"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteItem(&models.Item{ID: "drac", CollectionID: "scifi", Title: "Dracula"}); err != nil {
		t.Fatal(err)
	}

	rcpt := receipt.New()
	m := &manifest.Manifest{
		CollectionsIndex: []string{"scifi"},
		Collections:      map[string]manifest.Collection{"scifi": {ItemsIndex: []string{"a", "b"}, Query: "vampires"}},
	}
	out := t.TempDir()
	if err := New(store, rcpt, discard()).Run(context.Background(), m, out, false); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var items []string
	mustDecode(t, filepath.Join(out, "scifi", "items.json"), &items)
	if !reflect.DeepEqual(items, []string{"a", "b", "drac"}) {
		t.Errorf("items.json = %v, want query-sourced drac included", items)
	}
	var idx ConsolidatedIndex
	mustDecode(t, filepath.Join(out, "index.json"), &idx)
	if got := len(idx.Collections[0].Items); got != 3 {
		t.Errorf("exported items = %d, want 3", got)
	}
	if len(rcpt.Warnings) != 0 {
		t.Errorf("warnings = %v", rcpt.Warnings)
	}
}

func TestDestructiveModeClearsStaleFiles(t *testing.T) {
	store := seededStore(t)
	out := t.TempDir()
	stale := filepath.Join(out, "leftover.json")
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Non-destructive overlays without deleting unrelated files.
	if err := New(store, receipt.New(), discard()).Run(context.Background(), scifiManifest(), out, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Error("non-destructive export removed an unrelated file")
	}

	if err := New(store, receipt.New(), discard()).Run(context.Background(), scifiManifest(), out, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); err == nil {
		t.Error("destructive export left a stale file behind")
	}
	if _, err := os.Stat(filepath.Join(out, "index.json")); err != nil {
		t.Errorf("index missing after destructive export: %v", err)
	}
}

func TestExportLeavesNoTempFiles(t *testing.T) {
	store := seededStore(t)
	out := t.TempDir()
	if err := New(store, receipt.New(), discard()).Run(context.Background(), scifiManifest(), out, false); err != nil {
		t.Fatal(err)
	}
	err := filepath.WalkDir(out, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".shelfsync-tmp-") {
			t.Errorf("temp file left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func mustDecode(t *testing.T, path string, target any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

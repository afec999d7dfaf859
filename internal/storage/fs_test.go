package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/models"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestCollectionRoundTrip(t *testing.T) {
	s := tempStore(t)
	c := &models.Collection{ID: "scifi", Name: "Science Fiction", ItemIDs: []string{"a", "b"}}
	if err := s.WriteCollection(c); err != nil {
		t.Fatalf("WriteCollection: %v", err)
	}
	got, err := s.ReadCollection("scifi")
	if err != nil {
		t.Fatalf("ReadCollection: %v", err)
	}
	if got.Name != "Science Fiction" || len(got.ItemIDs) != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestItemRoundTrip(t *testing.T) {
	s := tempStore(t)
	it := &models.Item{ID: "frank", CollectionID: "scifi", Title: "Frankenstein", Tags: []string{"horror"}}
	if err := s.WriteItem(it); err != nil {
		t.Fatalf("WriteItem: %v", err)
	}
	got, err := s.ReadItem("scifi", "frank")
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if got.Title != "Frankenstein" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := tempStore(t)
	if _, err := s.ReadItem("scifi", "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ReadItem err = %v, want ErrNotFound", err)
	}
	if _, err := s.ReadOverlay("scifi", "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ReadOverlay err = %v, want ErrNotFound", err)
	}
	if _, _, err := s.ReadCover("scifi", "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("ReadCover err = %v, want ErrNotFound", err)
	}
}

func TestListCollectionsAndItems(t *testing.T) {
	s := tempStore(t)
	_ = s.WriteCollection(&models.Collection{ID: "scifi"})
	_ = s.WriteCollection(&models.Collection{ID: "poetry"})
	_ = s.WriteItem(&models.Item{ID: "a", CollectionID: "scifi"})
	_ = s.WriteItem(&models.Item{ID: "b", CollectionID: "scifi"})

	colls, err := s.ListCollections()
	if err != nil {
		t.Fatalf("ListCollections: %v", err)
	}
	if len(colls) != 2 {
		t.Errorf("collections = %v, want 2", colls)
	}

	items, err := s.ListItems("scifi")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("items = %v, want 2", items)
	}

	items, err = s.ListItems("empty")
	if err != nil {
		t.Fatalf("ListItems empty: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %v, want none", items)
	}
}

func TestOverlayRoundTrip(t *testing.T) {
	s := tempStore(t)
	o := models.Overlay{"title": "Custom Title", "custom": true}
	if err := s.WriteOverlay("scifi", "x", o); err != nil {
		t.Fatalf("WriteOverlay: %v", err)
	}
	got, err := s.ReadOverlay("scifi", "x")
	if err != nil {
		t.Fatalf("ReadOverlay: %v", err)
	}
	if got["title"] != "Custom Title" {
		t.Errorf("title = %v", got["title"])
	}
	if custom, _ := got["custom"].(bool); !custom {
		t.Error("custom flag lost")
	}
}

func TestCoverReplaceChangesExtension(t *testing.T) {
	s := tempStore(t)
	if err := s.WriteCover("scifi", "a", ".jpg", []byte("jpegdata")); err != nil {
		t.Fatalf("WriteCover: %v", err)
	}
	if err := s.WriteCover("scifi", "a", ".png", []byte("pngdata")); err != nil {
		t.Fatalf("WriteCover png: %v", err)
	}
	data, ext, err := s.ReadCover("scifi", "a")
	if err != nil {
		t.Fatalf("ReadCover: %v", err)
	}
	if ext != ".png" || string(data) != "pngdata" {
		t.Errorf("got ext %q data %q", ext, data)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "scifi", "a", "cover.jpg")); err == nil {
		t.Error("old cover.jpg should be removed")
	}
}

func TestDeleteItemAndCollection(t *testing.T) {
	s := tempStore(t)
	_ = s.WriteCollection(&models.Collection{ID: "scifi"})
	_ = s.WriteItem(&models.Item{ID: "a", CollectionID: "scifi"})
	_ = s.WriteCover("scifi", "a", ".jpg", []byte("x"))

	if err := s.DeleteItem("scifi", "a"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, err := s.ReadItem("scifi", "a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("item survived delete: %v", err)
	}

	if err := s.DeleteCollection("scifi"); err != nil {
		t.Fatalf("DeleteCollection: %v", err)
	}
	if _, err := s.ReadCollection("scifi"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("collection survived delete: %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempStore(t)

	cases := []string{
		"../../etc",
		"..",
		"/etc",
	}
	for _, id := range cases {
		if _, err := s.ReadCollection(id); err == nil || errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("expected traversal error for %q, got %v", id, err)
		}
		if err := s.WriteCollection(&models.Collection{ID: id}); err == nil {
			t.Errorf("expected traversal error for write to %q", id)
		}
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempStore(t)
	_ = s.WriteItem(&models.Item{ID: "a", CollectionID: "scifi"})
	_ = s.WriteItem(&models.Item{ID: "a", CollectionID: "scifi", Title: "updated"})

	matches, _ := filepath.Glob(filepath.Join(s.Root(), "scifi", "a", ".shelfsync-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
	got, err := s.ReadItem("scifi", "a")
	if err != nil {
		t.Fatalf("ReadItem: %v", err)
	}
	if got.Title != "updated" {
		t.Errorf("Title = %q", got.Title)
	}
}

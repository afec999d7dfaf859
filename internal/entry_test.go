package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/models"
	"github.com/tealfox/shelfsync/internal/receipt"
	"github.com/tealfox/shelfsync/internal/testutil"
)

func testConfig(t *testing.T, manifestContent string) *Config {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifestPath, []byte(manifestContent), 0o644); err != nil {
		t.Fatal(err)
	}
	return &Config{
		App: ApplicationConfig{LogLevel: slog.LevelError},
		Remote: RemoteConfig{
			BaseURL:        "http://unused.invalid",
			RequestTimeout: time.Second,
			RequestsPerSec: 100,
		},
		Cache:    CacheConfig{Path: filepath.Join(dir, "cache"), IndexPath: filepath.Join(dir, "state.db")},
		Export:   ExportConfig{Path: filepath.Join(dir, "export")},
		Manifest: ManifestConfig{Path: manifestPath},
		Worker:   WorkerConfig{Concurrency: 2},
	}
}

func TestRunFullPipeline(t *testing.T) {
	cfg := testConfig(t, `{
		"collectionsIndex": ["scifi"],
		"collections": {"scifi": {"itemsIndex": ["frank"]}}
	}`)
	fake := testutil.NewFakeRemote()
	fake.Collections["scifi"] = models.RawRecord{"title": "Science Fiction"}
	fake.SetItem("frank", "v1", models.RawRecord{"title": "Frankenstein"})

	err := Run(context.Background(), WithConfig(cfg), WithAdapter(fake))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Cache populated.
	if _, err := os.Stat(filepath.Join(cfg.Cache.Path, "scifi", "frank", "item.json")); err != nil {
		t.Errorf("cached item missing: %v", err)
	}
	// Export package written.
	if _, err := os.Stat(filepath.Join(cfg.Export.Path, "index.json")); err != nil {
		t.Errorf("export index missing: %v", err)
	}
	// Receipt persisted with the run totals.
	data, err := os.ReadFile(filepath.Join(cfg.Cache.Path, "receipt.json"))
	if err != nil {
		t.Fatalf("receipt missing: %v", err)
	}
	var rcpt receipt.Receipt
	if err := json.Unmarshal(data, &rcpt); err != nil {
		t.Fatal(err)
	}
	if rcpt.Fetched != 1 || rcpt.Exported != 1 || rcpt.FinishedAt.IsZero() {
		t.Errorf("receipt = %+v", &rcpt)
	}
	// Lock released.
	if _, err := os.Stat(filepath.Join(cfg.Cache.Path, ".shelfsync.lock")); !os.IsNotExist(err) {
		t.Error("lock file not released")
	}
}

func TestRunPartialFailureExitsNonZero(t *testing.T) {
	cfg := testConfig(t, `{
		"collectionsIndex": ["scifi"],
		"collections": {"scifi": {"itemsIndex": ["good", "bad"]}}
	}`)
	fake := testutil.NewFakeRemote()
	fake.Collections["scifi"] = models.RawRecord{"title": "SF"}
	fake.SetItem("good", "v1", models.RawRecord{"title": "Good"})
	fake.SetItem("bad", "v1", models.RawRecord{"title": "Bad"})
	fake.ItemErr["bad"] = errors.New("remote timeout")

	err := Run(context.Background(), WithConfig(cfg), WithAdapter(fake))
	if !errors.Is(err, apperr.ErrPartial) {
		t.Fatalf("err = %v, want ErrPartial", err)
	}

	// The good item still made it into cache and export.
	if _, err := os.Stat(filepath.Join(cfg.Cache.Path, "scifi", "good", "item.json")); err != nil {
		t.Errorf("good item missing: %v", err)
	}
}

func TestRunInvalidManifestIsFatal(t *testing.T) {
	cfg := testConfig(t, `{"collectionsIndex": ["a", "a"], "collections": {}}`)
	fake := testutil.NewFakeRemote()

	err := Run(context.Background(), WithConfig(cfg), WithAdapter(fake))
	if err == nil || errors.Is(err, apperr.ErrPartial) {
		t.Fatalf("err = %v, want fatal manifest error", err)
	}
	if fake.MetadataCalls != 0 {
		t.Error("manifest error must abort before any fetching")
	}
}

func TestRunImportOnlySkipsExport(t *testing.T) {
	cfg := testConfig(t, `{
		"collectionsIndex": ["scifi"],
		"collections": {"scifi": {"itemsIndex": ["frank"]}}
	}`)
	fake := testutil.NewFakeRemote()
	fake.Collections["scifi"] = models.RawRecord{"title": "SF"}
	fake.SetItem("frank", "v1", models.RawRecord{"title": "Frankenstein"})

	if err := Run(context.Background(), WithConfig(cfg), WithAdapter(fake), WithPhases(true, false)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(cfg.Export.Path); !os.IsNotExist(err) {
		t.Error("export dir should not exist after import-only run")
	}
}

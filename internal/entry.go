// Package internal provides the pipeline run initialization and orchestration.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tealfox/shelfsync/internal/apperr"
	"github.com/tealfox/shelfsync/internal/exporter"
	"github.com/tealfox/shelfsync/internal/importer"
	"github.com/tealfox/shelfsync/internal/index"
	"github.com/tealfox/shelfsync/internal/lockfile"
	"github.com/tealfox/shelfsync/internal/manifest"
	"github.com/tealfox/shelfsync/internal/receipt"
	"github.com/tealfox/shelfsync/internal/remote"
	"github.com/tealfox/shelfsync/internal/resolver"
	"github.com/tealfox/shelfsync/internal/storage"
)

const receiptFile = "receipt.json"

// Run executes one pipeline run with the given options. It returns
// apperr.ErrPartial when the run completed but recorded per-item
// failures, so the caller can exit non-zero.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{importPhase: true, exportPhase: true}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("export_path", cfg.Export.Path),
		slog.String("manifest_path", cfg.Manifest.Path),
		slog.String("remote_base_url", cfg.Remote.BaseURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// The manifest governs the correctness of the whole run; any problem
	// with it is fatal before fetching begins.
	m, err := manifest.Load(cfg.Manifest.Path)
	if err != nil {
		return err
	}

	store, err := storage.NewFS(cfg.Cache.Path)
	if err != nil {
		return err
	}

	// One run holds exclusive advisory ownership of the cache directory.
	lock, err := lockfile.Acquire(store.Root())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release lock failed", slog.String("error", err.Error()))
		}
	}()

	idx, err := index.Open(cfg.Cache.IndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	adapter := app.adapter
	if adapter == nil {
		adapter = remote.NewHTTPAdapter(cfg.Remote.BaseURL, cfg.Remote.RequestTimeout,
			cfg.Remote.RequestsPerSec, cfg.Remote.MaxRetries)
	}

	rcpt := receipt.New()
	receiptPath := filepath.Join(store.Root(), receiptFile)

	// Persist the receipt even on a fatal abort, best effort.
	defer func() {
		rcpt.Finalize()
		if werr := rcpt.Write(receiptPath); werr != nil {
			logger.Error("write receipt failed", slog.String("error", werr.Error()))
		}
	}()

	if app.importPhase {
		res := resolver.New(store, idx, adapter, logger)
		res.Force = app.force
		plan, err := res.Resolve(ctx, m)
		if err != nil {
			return err
		}
		logger.Info("import: plan resolved",
			slog.Int("collections", len(plan.Collections)),
			slog.Int("remove_collections", len(plan.RemoveCollections)),
			slog.Int("remove_items", len(plan.RemoveItems)))

		eng := importer.New(store, idx, adapter, rcpt, logger, cfg.Worker.Concurrency)
		eng.Force = app.force
		if err := eng.Run(ctx, plan); err != nil {
			return err
		}
	}

	if app.exportPhase {
		exp := exporter.New(store, rcpt, logger)
		if err := exp.Run(ctx, m, cfg.Export.Path, app.destructive); err != nil {
			return err
		}
	}

	if rcpt.HasFailures() {
		return apperr.ErrPartial
	}
	return nil
}

package internal

import "github.com/tealfox/shelfsync/internal/remote"

// Option is a functional option for configuring a pipeline run.
type Option func(*application)

type application struct {
	config      *Config
	adapter     remote.Adapter
	importPhase bool
	exportPhase bool
	destructive bool
	force       bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithAdapter overrides the remote adapter; defaults to the HTTP adapter
// built from config.
func WithAdapter(ad remote.Adapter) Option {
	return func(a *application) {
		a.adapter = ad
	}
}

// WithPhases selects which pipeline phases to run.
func WithPhases(importPhase, exportPhase bool) Option {
	return func(a *application) {
		a.importPhase = importPhase
		a.exportPhase = exportPhase
	}
}

// WithDestructiveExport clears the export directory before writing.
func WithDestructiveExport(on bool) Option {
	return func(a *application) {
		a.destructive = on
	}
}

// WithForce bypasses change-tag checks during import.
func WithForce(on bool) Option {
	return func(a *application) {
		a.force = on
	}
}

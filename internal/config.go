package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Remote   RemoteConfig      `yaml:"remote"`
	Cache    CacheConfig       `yaml:"cache"`
	Export   ExportConfig      `yaml:"export"`
	Manifest ManifestConfig    `yaml:"manifest"`
	Worker   WorkerConfig      `yaml:"worker"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Export.Validate(); err != nil {
		return err
	}
	if err := c.Manifest.Validate(); err != nil {
		return err
	}
	return c.Worker.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// RemoteConfig holds the remote content repository endpoint and the fetch
// politeness settings applied to every request against it.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestsPerSec int           `yaml:"requests_per_sec"`
	MaxRetries     int           `yaml:"max_retries"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.RequestsPerSec, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
	)
}

// CacheConfig holds the cache store directory and the fetch-state index path.
type CacheConfig struct {
	Path      string `yaml:"path"`
	IndexPath string `yaml:"index_path"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.IndexPath, validation.Required),
	)
}

// ExportConfig holds the export package output directory.
type ExportConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the export configuration.
func (c *ExportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ManifestConfig holds the path to the sync manifest.
type ManifestConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the manifest configuration.
func (c *ManifestConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// WorkerConfig bounds item-level concurrency inside a run.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Validate validates the worker configuration.
func (c *WorkerConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1), validation.Max(64)),
	); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Remote: RemoteConfig{
			BaseURL:        "https://archive.example.org",
			RequestTimeout: 30 * time.Second,
			RequestsPerSec: 4,
			MaxRetries:     3,
		},
		Cache: CacheConfig{
			Path:      "./cache",
			IndexPath: "./cache/fetchstate.db",
		},
		Export: ExportConfig{
			Path: "./export",
		},
		Manifest: ManifestConfig{
			Path: "./manifest.json",
		},
		Worker: WorkerConfig{
			Concurrency: 4,
		},
	}
}

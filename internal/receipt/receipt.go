// Package receipt accumulates counts, timings, and error records across
// one pipeline run and persists them as a structured report.
package receipt

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RunError is one recorded failure: the offending identifier and message.
type RunError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Receipt is the run-scoped accumulator. It is shared by the import and
// export engines within one run and is safe for concurrent workers; it is
// never shared across runs and never mutated after Finalize.
type Receipt struct {
	mu sync.Mutex

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Fetched   int `json:"fetched"`
	Unchanged int `json:"unchanged"`
	Custom    int `json:"custom"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
	Exported  int `json:"exported"`

	Bytes int64 `json:"bytes"`

	ItemsPerSec float64 `json:"items_per_sec"`
	BytesPerSec float64 `json:"bytes_per_sec"`

	Errors   []RunError `json:"errors,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`
}

// New starts a receipt stamped with the current time.
func New() *Receipt {
	return &Receipt{StartedAt: time.Now().UTC()}
}

// AddFetched records a completed item fetch of n bytes.
func (r *Receipt) AddFetched(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fetched++
	r.Bytes += n
}

// AddUnchanged records an item skipped because its change-tag matched.
func (r *Receipt) AddUnchanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unchanged++
}

// AddCustom records a custom item synthesized without a remote call.
func (r *Receipt) AddCustom() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Custom++
}

// AddRemoved records a cache entry pruned by the whitelist.
func (r *Receipt) AddRemoved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Removed++
}

// AddExported records an item included in the export package.
func (r *Receipt) AddExported() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Exported++
}

// AddError records a per-item failure and keeps the run going.
func (r *Receipt) AddError(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed++
	r.Errors = append(r.Errors, RunError{ID: id, Message: err.Error()})
}

// AddWarning records a non-fatal anomaly, such as a whitelisted item
// missing from the cache at export time.
func (r *Receipt) AddWarning(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, msg)
}

// HasFailures reports whether any per-item errors were recorded.
func (r *Receipt) HasFailures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Failed > 0
}

// Finalize stamps the end time and computes derived rates. Safe to call
// more than once; only the first call sets the end time.
func (r *Receipt) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.FinishedAt.IsZero() {
		return
	}
	r.FinishedAt = time.Now().UTC()
	elapsed := r.FinishedAt.Sub(r.StartedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	r.ItemsPerSec = float64(r.Fetched+r.Unchanged+r.Custom) / elapsed
	r.BytesPerSec = float64(r.Bytes) / elapsed
}

// Write persists the receipt as JSON via temp file and rename.
func (r *Receipt) Write(path string) error {
	r.mu.Lock()
	data, err := json.MarshalIndent(r, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("receipt: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("receipt: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("receipt: rename: %w", err)
	}
	return nil
}

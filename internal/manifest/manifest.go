// Package manifest loads and validates the sync manifest: the sole
// authority for which collections and items are retained in the cache and
// included in the export package.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// identRe constrains IDs to names that are safe as cache directory names.
var identRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Manifest is the persisted sync manifest.
type Manifest struct {
	CollectionsIndex []string              `json:"collectionsIndex"`
	Collections      map[string]Collection `json:"collections"`
}

// Collection is the per-collection portion of the manifest.
type Collection struct {
	ItemsIndex []string `json:"itemsIndex"`
	// Query optionally widens the item set with a remote search; matching
	// identifiers are unioned with ItemsIndex at resolve time.
	Query string `json:"query,omitempty"`
}

// Load reads and validates the manifest at path. Any validation failure is
// fatal to the run before fetching begins, since the manifest governs the
// correctness of everything downstream.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &m, nil
}

// Validate checks structural integrity: well-formed unique IDs, and every
// collections entry reachable from collectionsIndex.
func (m *Manifest) Validate() error {
	if err := validation.Validate(m.CollectionsIndex,
		validation.Each(validation.Required, validation.Match(identRe)),
	); err != nil {
		return fmt.Errorf("collectionsIndex: %w", err)
	}

	listed := make(map[string]struct{}, len(m.CollectionsIndex))
	for _, id := range m.CollectionsIndex {
		if _, dup := listed[id]; dup {
			return fmt.Errorf("collectionsIndex: duplicate collection %q", id)
		}
		listed[id] = struct{}{}
	}

	for id, c := range m.Collections {
		if _, ok := listed[id]; !ok {
			return fmt.Errorf("collections: %q not listed in collectionsIndex", id)
		}
		if err := validation.Validate(c.ItemsIndex,
			validation.Each(validation.Required, validation.Match(identRe)),
		); err != nil {
			return fmt.Errorf("collection %q itemsIndex: %w", id, err)
		}
		seen := make(map[string]struct{}, len(c.ItemsIndex))
		for _, item := range c.ItemsIndex {
			if _, dup := seen[item]; dup {
				return fmt.Errorf("collection %q: duplicate item %q", id, item)
			}
			seen[item] = struct{}{}
		}
	}
	return nil
}

// Items returns the manifest's item list for a collection. A collection
// listed without an entry simply has no item-level work.
func (m *Manifest) Items(collectionID string) []string {
	return m.Collections[collectionID].ItemsIndex
}

// IncludesCollection reports whether the collection is whitelisted.
func (m *Manifest) IncludesCollection(id string) bool {
	for _, c := range m.CollectionsIndex {
		if c == id {
			return true
		}
	}
	return false
}

// IncludesItem reports whether the item is whitelisted within its collection.
func (m *Manifest) IncludesItem(collectionID, itemID string) bool {
	for _, it := range m.Items(collectionID) {
		if it == itemID {
			return true
		}
	}
	return false
}

// Package checksum produces local change-tags for records that have no
// remote tag: custom items, overlay-synthesized records, and responses
// from adapters that do not return an ETag.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Tag returns the hex-encoded SHA-256 digest of data, usable as a
// change-tag wherever the remote does not supply one.
func Tag(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

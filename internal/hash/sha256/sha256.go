// Package sha256 provides SHA-256 hashing for raw snapshot keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Hasher implements evidence.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SnapshotPath builds the content-addressed object path of a raw snapshot:
// <source>/<yyyy>/<mm>/<dd>/<digest>.<ext>.
func (h *Hasher) SnapshotPath(sourceID string, fetchedAt time.Time, body []byte, ext string) (string, error) {
	digest, err := h.Hash(body)
	if err != nil {
		return "", err
	}
	if ext == "" {
		ext = "html"
	}
	return fmt.Sprintf("%s/%s/%s.%s", sourceID, fetchedAt.UTC().Format("2006/01/02"), digest, ext), nil
}

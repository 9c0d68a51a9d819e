// Package sha256 fingerprints record batches so archived objects can be verified.
package sha256

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/JakeFAU/serialwatch/internal/crawler"
)

// Hasher computes SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Records digests a batch independent of its order.
func (h *Hasher) Records(records []crawler.Record) (string, error) {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b crawler.Record) int {
		return cmp.Compare(a.Serial, b.Serial)
	})
	raw, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	return h.Hash(raw)
}

// Package sha256 derives deduplication keys for extracted items.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// fieldSeparator is the ASCII unit separator; it never appears in cleaned
// article text, so distinct field splits cannot collide.
const fieldSeparator = "\x1f"

// Hasher implements crawler.Hasher using SHA-256.
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

// ItemKey returns the dedup key of an item: the digest of its persisted
// columns. The URL is not part of the key because it is not persisted.
func ItemKey(item crawler.Item) string {
	sum := sha256.Sum256([]byte(strings.Join(item.Record(), fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// RecordKey is ItemKey for a row read back from storage.
func RecordKey(record []string) string {
	sum := sha256.Sum256([]byte(strings.Join(record, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

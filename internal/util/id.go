package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier such as "form_9f2c...". The random part
// is 24 hex characters, which is enough to make collisions a non-concern at
// this scale. An empty prefix yields the bare hex string.
func NewID(prefix string) string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

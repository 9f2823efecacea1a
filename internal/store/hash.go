package store

import (
	"crypto/sha256"
	"fmt"
)

// HashDocument computes the SHA-256 of a persisted document. Exports are
// deterministic, so equal graphs hash equal.
func HashDocument(doc []byte) string {
	h := sha256.Sum256(doc)
	return fmt.Sprintf("%x", h)
}

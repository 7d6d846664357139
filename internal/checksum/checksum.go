// Package checksum computes the content hashes used for drift detection.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SHA256 returns the lowercase hex digest of b.
func SHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}

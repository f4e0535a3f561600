package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex returns the hex-encoded SHA256 hash of the input string.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// CacheKey derives a short, fixed-length key segment from an arbitrary
// string (URLs, keyword lists) so cache keys stay bounded and safe.
func CacheKey(input string) string {
	return SHA256Hex(input)[:16]
}

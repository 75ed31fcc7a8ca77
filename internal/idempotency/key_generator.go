package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GenerateKey hashes parts into a fixed-length key. Parts are length
// prefixed, so ("a:", "b") and ("a", ":b") produce different keys.
func GenerateKey(parts ...any) string {
	h := sha256.New()
	for _, part := range parts {
		s := fmt.Sprint(part)
		fmt.Fprintf(h, "%d:%s", len(s), s)
	}

	return hex.EncodeToString(h.Sum(nil))
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a token string so that cache keys never contain a usable
// bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

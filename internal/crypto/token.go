package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const tokenCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Lengths of the opaque values handed out by the server. 30 symbols from a
// 62 symbol alphabet carry about 178 bits.
const (
	CodeLength         = 30
	AccessTokenLength  = 30
	RefreshTokenLength = 30
	ClientSecretLength = 32
)

// GenerateToken returns a random string of length symbols drawn uniformly
// from [a-zA-Z0-9].
func GenerateToken(length int) (string, error) {
	max := big.NewInt(int64(len(tokenCharset)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b[i] = tokenCharset[n.Int64()]
	}
	return string(b), nil
}

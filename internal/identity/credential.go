package identity

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const credentialAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789!@#$%*"

// GenerateInitialCredential returns a random password of the given length for a
// freshly created identity. The holder is forced to replace it on first login.
func GenerateInitialCredential(length int) (string, error) {
	if length < 12 {
		return "", fmt.Errorf("initial credential length must be at least 12, got %d", length)
	}
	max := big.NewInt(int64(len(credentialAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate credential: %w", err)
		}
		buf[i] = credentialAlphabet[n.Int64()]
	}
	return string(buf), nil
}

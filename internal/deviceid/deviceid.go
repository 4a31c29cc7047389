package deviceid

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length is the device identifier length the upstream registration
// endpoint expects.
const Length = 32

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// New returns a random alphanumeric device identifier of the default length.
func New() (string, error) {
	return NewN(Length)
}

// NewN returns a random alphanumeric device identifier of length n.
func NewN(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("device id length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	size := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generating device id: %w", err)
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}

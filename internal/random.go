package internal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// RandomToken reads n bytes from r and returns them base64url encoded
// without padding. A nil r means crypto/rand.
func RandomToken(r io.Reader, n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid random token size %d", n)
	}
	if r == nil {
		r = rand.Reader
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash domains. The version suffix allows the encoding to change later
// without colliding with old hashes.
const (
	DomainModel  = "weave/model/v1"
	DomainLog    = "weave/log/v1"
	DomainConfig = "weave/config/v1"
)

// Sum returns SHA-256(domain || 0x00 || data), hex encoded.
func Sum(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash canonically encodes v and hashes it under domain.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash %s: %w", domain, err)
	}
	return Sum(domain, data), nil
}

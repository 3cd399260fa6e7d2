package hashpath

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrSecretRequired is returned when a Hasher is constructed without a secret.
var ErrSecretRequired = errors.New("hashpath: secret is required")

// Hasher derives the opaque identifiers used in waiter URLs from logical file
// paths. The digest is keyed by the server secret so identifiers are stable
// across requests but cannot be forged or reversed without it.
type Hasher struct {
	secret string
}

func New(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	return &Hasher{secret: secret}, nil
}

// Hash returns the hex SHA-256 digest of logicalPath concatenated with the
// server secret.
func (h *Hasher) Hash(logicalPath string) string {
	sum := sha256.Sum256([]byte(logicalPath + h.secret))
	return hex.EncodeToString(sum[:])
}

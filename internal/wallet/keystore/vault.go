package keystore

import (
	"crypto/sha256"

	"github.com/pkg/errors"
)

var (
	ErrEmptySecret         = errors.New("wallet secret is empty")
	ErrMalformedCiphertext = errors.New("malformed encrypted key")
)

const (
	// format: hex(iv) ":" hex(ciphertext)
	separator = ":"
	ivSize    = 16
)

// Vault encrypts and decrypts deposit wallet private keys at rest.
// The AES-256 key is the SHA-256 digest of the shared wallet secret.
type Vault struct {
	key [sha256.Size]byte
}

// New derives the vault key from secret. An empty secret is rejected.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	return &Vault{key: sha256.Sum256([]byte(secret))}, nil
}

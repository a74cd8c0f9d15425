package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrSealedSecretCorrupt is returned when a sealed secret cannot be opened.
var ErrSealedSecretCorrupt = errors.New("sealed secret is corrupt or was sealed with a different key")

// Sealer encrypts secrets before they reach the backing store. The
// credential id is bound as additional data, so a sealed secret copied onto
// another credential row fails to open.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256-GCM key from passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts secret for credential id. Output is nonce || ciphertext.
func (s *Sealer) Seal(id string, secret []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, secret, []byte(id)), nil
}

// Open decrypts a value produced by Seal for the same id.
func (s *Sealer) Open(id string, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrSealedSecretCorrupt
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(id))
	if err != nil {
		return nil, ErrSealedSecretCorrupt
	}
	return plain, nil
}

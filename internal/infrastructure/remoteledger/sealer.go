package remoteledger

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ledgerlink/backend/internal/domain/ledger"
)

// Sealer errors
var (
	// ErrInvalidSealerKey rejects keys of the wrong length
	ErrInvalidSealerKey = errors.New("remoteledger: sealer key must be 32 bytes")
	// ErrSealedTooShort rejects ciphertexts shorter than a nonce
	ErrSealedTooShort = errors.New("remoteledger: sealed value too short")
)

// Sealer encrypts connection credentials at rest with ChaCha20-Poly1305.
// The key comes from configuration and never leaves the process; sealed
// values are nonce-prefixed so each credential encrypts differently even
// when the plaintext repeats.
type Sealer struct {
	key []byte
}

// NewSealer creates a sealer from a raw 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidSealerKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Sealer{key: k}, nil
}

// NewSealerFromHex creates a sealer from a hex-encoded 32-byte key, the
// form the key takes in configuration.
func NewSealerFromHex(hexKey string) (*Sealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSealerKey, err)
	}
	return NewSealer(key)
}

// Seal encrypts the plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("remoteledger: creating cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("remoteledger: generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts bytes produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("remoteledger: creating cipher: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrSealedTooShort
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("remoteledger: opening sealed value: %w", err)
	}
	return plaintext, nil
}

// Ensure Sealer implements SecretSealer
var _ ledger.SecretSealer = (*Sealer)(nil)

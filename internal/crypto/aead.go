package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"roomseal/internal/domain"
)

// NonceBytes is the AEAD nonce size carried as the envelope IV.
const NonceBytes = chacha20poly1305.NonceSize

// NewSymmetricKey returns a fresh random 256-bit room key.
func NewSymmetricKey() (domain.SymmetricKey, error) {
	var key domain.SymmetricKey
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("%w: %v", domain.ErrCryptoFailure, err)
	}
	return key, nil
}

// Seal encrypts plaintext under key with a fresh random nonce. The
// Poly1305 tag is folded into the returned ciphertext.
func Seal(key domain.SymmetricKey, plaintext, additional []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(key.Slice())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrCryptoFailure, err)
	}
	nonce = make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrCryptoFailure, err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, additional), nil
}

// Open decrypts and authenticates a ciphertext produced by Seal. It
// fails with ErrDecryptFailure on any authentication error.
func Open(key domain.SymmetricKey, nonce, ciphertext, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key.Slice())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCryptoFailure, err)
	}
	if len(nonce) != NonceBytes {
		return nil, fmt.Errorf("%w: nonce has length %d", domain.ErrDecryptFailure, len(nonce))
	}
	plain, err := aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("%w: aead open", domain.ErrDecryptFailure)
	}
	return plain, nil
}

package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"roomseal/internal/domain"
)

// GenerateKeyPair returns a fresh Curve25519 key pair suitable for
// sealed-box wrapping.
func GenerateKeyPair() (pub domain.PublicKey, priv domain.PrivateKey, err error) {
	pk, sk, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return pub, priv, fmt.Errorf("%w: %v", domain.ErrCryptoFailure, err)
	}
	copy(pub[:], pk[:])
	copy(priv[:], sk[:])
	return pub, priv, nil
}

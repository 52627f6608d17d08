package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"roomseal/internal/domain"
)

// WrapKey seals a room key for one recipient using an anonymous sealed
// box. Only the holder of the matching private key can open it.
func WrapKey(key domain.SymmetricKey, recipient domain.PublicKey) ([]byte, error) {
	pub := [32]byte(recipient)
	ct, err := box.SealAnonymous(nil, key.Slice(), &pub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: seal: %v", domain.ErrCryptoFailure, err)
	}
	return ct, nil
}

// UnwrapKey opens a sealed box produced by WrapKey. It fails with
// ErrDecryptFailure when the ciphertext was sealed for a different key
// pair or has been tampered with.
func UnwrapKey(ciphertext []byte, pub domain.PublicKey, priv domain.PrivateKey) (domain.SymmetricKey, error) {
	var key domain.SymmetricKey
	pk := [32]byte(pub)
	sk := [32]byte(priv)
	raw, ok := box.OpenAnonymous(nil, ciphertext, &pk, &sk)
	defer WipeKey(&sk)
	if !ok {
		return key, fmt.Errorf("%w: sealed box open", domain.ErrDecryptFailure)
	}
	if len(raw) != len(key) {
		Wipe(raw)
		return key, fmt.Errorf("%w: unwrapped key has length %d", domain.ErrDecryptFailure, len(raw))
	}
	copy(key[:], raw)
	Wipe(raw)
	return key, nil
}

package cipher

import (
	"fmt"

	"roomseal/internal/crypto"
	"roomseal/internal/domain"
)

// AlgChaCha20Poly1305 is the default envelope algorithm identifier.
const AlgChaCha20Poly1305 = "chacha20poly1305/v1"

// Cipher seals and opens message payloads with the active room key.
type Cipher struct {
	rooms domain.RoomKeyStore
}

// New returns a Cipher reading keys from the given store.
func New(rooms domain.RoomKeyStore) *Cipher { return &Cipher{rooms: rooms} }

// Encrypt seals plaintext for the room with a fresh random nonce.
//
// It fails with ErrNoActiveKey when the room holds no active key.
// Callers must run the exchange protocol and retry; there is no
// plaintext fallback.
func (c *Cipher) Encrypt(room domain.RoomID, plaintext []byte) (domain.EncryptedEnvelope, error) {
	rk, err := c.rooms.Get(room)
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	if rk.State != domain.KeyStateActive {
		return domain.EncryptedEnvelope{}, fmt.Errorf("%w: %s is %s", domain.ErrNoActiveKey, room, rk.State)
	}

	nonce, ct, err := crypto.Seal(rk.Key, plaintext, associatedData(room, rk.KeyID, AlgChaCha20Poly1305))
	if err != nil {
		return domain.EncryptedEnvelope{}, err
	}
	return domain.EncryptedEnvelope{
		RoomID:     room,
		KeyID:      rk.KeyID,
		Algorithm:  AlgChaCha20Poly1305,
		IV:         nonce,
		Ciphertext: ct,
	}, nil
}

// Decrypt opens an envelope with the room's active key.
//
// It fails with ErrKeyMismatch when the envelope references a key
// version other than the active one (the room key rotated elsewhere)
// and with ErrDecryptFailure on authentication failure. Neither is
// swallowed; callers surface both as typed results.
func (c *Cipher) Decrypt(env domain.EncryptedEnvelope) ([]byte, error) {
	open, ok := algorithms[env.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: unknown algorithm %q", domain.ErrDecryptFailure, env.Algorithm)
	}

	rk, err := c.rooms.Get(env.RoomID)
	if err != nil {
		return nil, err
	}
	if rk.State != domain.KeyStateActive {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNoActiveKey, env.RoomID, rk.State)
	}
	if rk.KeyID != env.KeyID {
		return nil, fmt.Errorf("%w: envelope %s, active %s", domain.ErrKeyMismatch, env.KeyID, rk.KeyID)
	}
	return open(rk.Key, env)
}

// algorithms maps envelope algorithm identifiers to their open
// functions. Superseded algorithms stay in the table so old envelopes
// remain decryptable against old key ids.
var algorithms = map[string]func(domain.SymmetricKey, domain.EncryptedEnvelope) ([]byte, error){
	AlgChaCha20Poly1305: openChaCha20Poly1305,
}

func openChaCha20Poly1305(key domain.SymmetricKey, env domain.EncryptedEnvelope) ([]byte, error) {
	return crypto.Open(key, env.IV, env.Ciphertext, associatedData(env.RoomID, env.KeyID, env.Algorithm))
}

// associatedData binds the envelope header into the AEAD so a relocated
// or re-labelled ciphertext fails authentication.
func associatedData(room domain.RoomID, keyID domain.KeyID, alg string) []byte {
	ad := make([]byte, 0, len(room)+len(keyID)+len(alg)+2)
	ad = append(ad, room...)
	ad = append(ad, 0)
	ad = append(ad, keyID...)
	ad = append(ad, 0)
	ad = append(ad, alg...)
	return ad
}

// Compile-time assertion that Cipher implements domain.MessageCipher.
var _ domain.MessageCipher = (*Cipher)(nil)

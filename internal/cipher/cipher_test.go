package cipher_test

import (
	"bytes"
	"errors"
	"testing"

	"roomseal/internal/cipher"
	"roomseal/internal/crypto"
	"roomseal/internal/domain"
	"roomseal/internal/roomkeys"
)

const room = domain.RoomID("r1")

func activeStore(t *testing.T, keyID domain.KeyID) (*roomkeys.Store, domain.SymmetricKey) {
	t.Helper()
	s, err := roomkeys.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key, err := crypto.NewSymmetricKey()
	if err != nil {
		t.Fatalf("new key: %v", err)
	}
	if err := s.SetActive(room, keyID, key); err != nil {
		t.Fatalf("set active: %v", err)
	}
	return s, key
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	s, _ := activeStore(t, "k1")
	c := cipher.New(s)

	plaintext := []byte("attack at dawn")
	env, err := c.Encrypt(room, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if env.Algorithm != cipher.AlgChaCha20Poly1305 || env.KeyID != "k1" {
		t.Fatalf("unexpected envelope header: %+v", env)
	}
	if len(env.MAC) != 0 {
		t.Fatal("AEAD algorithm must fold the tag into the ciphertext")
	}

	got, err := c.Decrypt(env)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestEncrypt_FreshNonces(t *testing.T) {
	s, _ := activeStore(t, "k1")
	c := cipher.New(s)

	a, err := c.Encrypt(room, []byte("x"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := c.Encrypt(room, []byte("x"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(a.IV, b.IV) {
		t.Fatal("nonce reused across envelopes")
	}
}

func TestEncrypt_MissingKey(t *testing.T) {
	s, err := roomkeys.New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	c := cipher.New(s)

	if _, err := c.Encrypt(room, []byte("never in plaintext")); !errors.Is(err, domain.ErrNoActiveKey) {
		t.Fatalf("got %v, want ErrNoActiveKey", err)
	}
}

func TestDecrypt_TamperDetection(t *testing.T) {
	s, _ := activeStore(t, "k1")
	c := cipher.New(s)

	env, err := c.Encrypt(room, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	for i := range env.Ciphertext {
		tampered := env
		tampered.Ciphertext = append([]byte(nil), env.Ciphertext...)
		tampered.Ciphertext[i] ^= 0x01
		if _, err := c.Decrypt(tampered); !errors.Is(err, domain.ErrDecryptFailure) {
			t.Fatalf("bit flip at %d: got %v, want ErrDecryptFailure", i, err)
		}
	}
}

func TestDecrypt_HeaderBinding(t *testing.T) {
	s, key := activeStore(t, "k1")
	c := cipher.New(s)

	env, err := c.Encrypt(room, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Same key under a different room: the associated data must not
	// authenticate.
	if err := s.SetActive("r2", "k1", key); err != nil {
		t.Fatalf("set active: %v", err)
	}
	moved := env
	moved.RoomID = "r2"
	if _, err := c.Decrypt(moved); !errors.Is(err, domain.ErrDecryptFailure) {
		t.Fatalf("relocated envelope: got %v, want ErrDecryptFailure", err)
	}
}

func TestDecrypt_KeyMismatchAfterRotation(t *testing.T) {
	s, _ := activeStore(t, "k1")
	c := cipher.New(s)

	env, err := c.Encrypt(room, []byte("old message"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Rotate the room key elsewhere.
	newKey, _ := crypto.NewSymmetricKey()
	if err := s.SetActive(room, "k2", newKey); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if _, err := c.Decrypt(env); !errors.Is(err, domain.ErrKeyMismatch) {
		t.Fatalf("got %v, want ErrKeyMismatch", err)
	}
}

func TestDecrypt_UnknownAlgorithm(t *testing.T) {
	s, _ := activeStore(t, "k1")
	c := cipher.New(s)

	env, err := c.Encrypt(room, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	env.Algorithm = "rot13/v0"
	if _, err := c.Decrypt(env); !errors.Is(err, domain.ErrDecryptFailure) {
		t.Fatalf("got %v, want ErrDecryptFailure", err)
	}
}

func TestEnvelopeCodec(t *testing.T) {
	s, _ := activeStore(t, "k1")
	c := cipher.New(s)

	env, err := c.Encrypt(room, []byte("framed"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	frame, err := cipher.EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := cipher.DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := c.Decrypt(back)
	if err != nil {
		t.Fatalf("decrypt decoded: %v", err)
	}
	if string(got) != "framed" {
		t.Fatalf("got %q", got)
	}

	if _, err := cipher.DecodeEnvelope([]byte("not cbor at all")); !errors.Is(err, domain.ErrDecryptFailure) {
		t.Fatalf("malformed frame: got %v, want ErrDecryptFailure", err)
	}
}

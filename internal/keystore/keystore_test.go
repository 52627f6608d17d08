package keystore_test

import (
	"errors"
	"testing"

	"roomseal/internal/crypto"
	"roomseal/internal/domain"
	"roomseal/internal/keystore"
)

func TestIdentity_GenerateLoad_OK(t *testing.T) {
	home := t.TempDir()
	pass := "pass"

	var ks domain.KeyStore = keystore.New(home)

	id, err := ks.GenerateIdentity(pass)
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	if id.Fingerprint == "" {
		t.Fatal("generated identity has empty fingerprint")
	}

	got, ok, err := ks.LoadIdentity(pass)
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if !ok {
		t.Fatal("identity not found after generate")
	}
	if got.Public != id.Public || got.Fingerprint != id.Fingerprint {
		t.Fatal("mismatch after load")
	}
}

func TestIdentity_NotInitialised(t *testing.T) {
	ks := keystore.New(t.TempDir())

	_, ok, err := ks.LoadIdentity("pass")
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if ok {
		t.Fatal("expected no identity in fresh dir")
	}
}

func TestIdentity_WrongPassphrase_Fails(t *testing.T) {
	ks := keystore.New(t.TempDir())

	if _, err := ks.GenerateIdentity("correct"); err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	if _, _, err := ks.LoadIdentity("wrong"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	ks := keystore.New(t.TempDir())
	id, err := ks.GenerateIdentity("pass")
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	key, err := crypto.NewSymmetricKey()
	if err != nil {
		t.Fatalf("new symmetric key: %v", err)
	}

	ct, err := ks.Wrap(key, id.Public)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	got, err := ks.Unwrap(ct, id)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if got != key {
		t.Fatal("unwrapped key differs from original")
	}
}

func TestWrap_KeyIsolation(t *testing.T) {
	ksA := keystore.New(t.TempDir())
	ksB := keystore.New(t.TempDir())

	idA, err := ksA.GenerateIdentity("pass")
	if err != nil {
		t.Fatalf("generate identity A: %v", err)
	}
	idB, err := ksB.GenerateIdentity("pass")
	if err != nil {
		t.Fatalf("generate identity B: %v", err)
	}

	key, err := crypto.NewSymmetricKey()
	if err != nil {
		t.Fatalf("new symmetric key: %v", err)
	}
	ct, err := ksA.Wrap(key, idA.Public)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	if _, err := ksB.Unwrap(ct, idB); !errors.Is(err, domain.ErrDecryptFailure) {
		t.Fatalf("unwrap with wrong identity: got %v, want ErrDecryptFailure", err)
	}
}

func TestResetIdentity_ReplacesKeyPair(t *testing.T) {
	ks := keystore.New(t.TempDir())

	old, err := ks.GenerateIdentity("pass")
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	fresh, err := ks.ResetIdentity("pass")
	if err != nil {
		t.Fatalf("reset identity: %v", err)
	}
	if fresh.Public == old.Public {
		t.Fatal("reset did not replace the key pair")
	}

	got, ok, err := ks.LoadIdentity("pass")
	if err != nil || !ok {
		t.Fatalf("load after reset: ok=%v err=%v", ok, err)
	}
	if got.Public != fresh.Public {
		t.Fatal("persisted identity is not the reset one")
	}
}

func TestResetIdentity_WrongPassphrase_KeepsOld(t *testing.T) {
	ks := keystore.New(t.TempDir())

	old, err := ks.GenerateIdentity("correct")
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	if _, err := ks.ResetIdentity("wrong"); err == nil {
		t.Fatal("expected reset with wrong passphrase to fail")
	}

	got, ok, err := ks.LoadIdentity("correct")
	if err != nil || !ok {
		t.Fatalf("load after failed reset: ok=%v err=%v", ok, err)
	}
	if got.Public != old.Public {
		t.Fatal("failed reset must leave the prior identity intact")
	}
}

func TestResetIdentity_NoIdentity(t *testing.T) {
	ks := keystore.New(t.TempDir())
	if _, err := ks.ResetIdentity("pass"); !errors.Is(err, domain.ErrNoIdentity) {
		t.Fatalf("got %v, want ErrNoIdentity", err)
	}
}

package dh

import (
	"bytes"
	"testing"
)

func TestSharedSecretAgreement(t *testing.T) {
	alicePriv, alicePub, err := NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	bobPriv, bobPub, err := NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	aliceSecret, err := SharedSecret(alicePriv, bobPub)
	if err != nil {
		t.Fatal(err)
	}
	bobSecret, err := SharedSecret(bobPriv, alicePub)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(aliceSecret, bobSecret) {
		t.Fatal("both sides must derive the same shared secret")
	}
}

func TestDeriveKeyInfoSeparation(t *testing.T) {
	secret := bytes.Repeat([]byte{7}, 32)

	a, err := DeriveKey(secret, "one")
	if err != nil {
		t.Fatal(err)
	}
	b, err := DeriveKey(secret, "two")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != KeySize {
		t.Fatalf("expected %d byte key, got %d", KeySize, len(a))
	}
	if bytes.Equal(a, b) {
		t.Fatal("different info strings must yield different keys")
	}
}

func TestPublicKeyEncoding(t *testing.T) {
	_, pub, err := NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodePublicKey(EncodePublicKey(pub))
	if err != nil {
		t.Fatal(err)
	}
	if got != pub {
		t.Fatal("encode/decode must round-trip")
	}

	if _, err := DecodePublicKey("%%%"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := DecodePublicKey("c2hvcnQ="); err == nil {
		t.Fatal("expected error for wrong length key")
	}
}

package dh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of the AES key derived from a shared secret.
const KeySize = 32

// NewKeyPair generates an X25519 key pair. The public key is what gets
// published through the share-public-key endpoint.
func NewKeyPair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// SharedSecret performs X25519 scalar multiplication: priv * pub.
func SharedSecret(priv, pub [32]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// DeriveKey expands a shared secret into an AES key with HKDF-SHA256.
// Both sides must pass the same info string.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, KeySize)
	h := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return key, nil
}

// EncodePublicKey renders a public key for the JSON key-exchange payloads.
func EncodePublicKey(pub [32]byte) string {
	return base64.StdEncoding.EncodeToString(pub[:])
}

// DecodePublicKey parses a base64 public key received from a peer.
func DecodePublicKey(s string) (pub [32]byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return pub, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 32 {
		return pub, fmt.Errorf("public key must be 32 bytes, got %d", len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}

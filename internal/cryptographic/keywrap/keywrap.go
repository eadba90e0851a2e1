// Package keywrap seals a channel AES key to a recipient's public key so
// the key can travel through the untrusted key-exchange store. Each wrap
// uses a fresh ephemeral X25519 key pair; the recipient recovers the same
// AEAD key from the ephemeral public half bundled into the blob.
package keywrap

import (
	"encoding/base64"
	"fmt"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/cryptographic/dh"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/cryptographic/encryption"
)

const wrapInfo = "chat-e2ee key wrap"

// Wrap encrypts channelKey to recipientPub. The wire format is
// base64(ephemeralPub || nonce || ciphertext); the ephemeral public key is
// bound into the AEAD as associated data.
func Wrap(channelKey []byte, recipientPub [32]byte) (string, error) {
	ephPriv, ephPub, err := dh.NewKeyPair()
	if err != nil {
		return "", err
	}
	secret, err := dh.SharedSecret(ephPriv, recipientPub)
	if err != nil {
		return "", fmt.Errorf("key agreement: %w", err)
	}
	wrapKey, err := dh.DeriveKey(secret, wrapInfo)
	if err != nil {
		return "", err
	}
	blob, err := encryption.AEADEncrypt(wrapKey, channelKey, ephPub[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(ephPub[:], blob...)), nil
}

// Unwrap recovers a channel key wrapped to recipientPriv's public half.
func Unwrap(wrapped string, recipientPriv [32]byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	if len(raw) < 32 {
		return nil, fmt.Errorf("wrapped key too short")
	}
	var ephPub [32]byte
	copy(ephPub[:], raw[:32])

	secret, err := dh.SharedSecret(recipientPriv, ephPub)
	if err != nil {
		return nil, fmt.Errorf("key agreement: %w", err)
	}
	wrapKey, err := dh.DeriveKey(secret, wrapInfo)
	if err != nil {
		return nil, err
	}
	return encryption.AEADDecrypt(wrapKey, raw[32:], ephPub[:])
}

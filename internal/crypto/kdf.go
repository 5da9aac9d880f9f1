package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// SaltBytes is the per-profile master-key salt size.
const SaltBytes = 16

// NewSalt returns a fresh random master-key salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveMasterKey derives the cache master key from a passphrase and salt
// using Argon2id.
func DeriveMasterKey(passphrase string, salt []byte) ([]byte, error) {
	if len(salt) != SaltBytes {
		return nil, errors.New("invalid salt size")
	}
	return argon2.IDKey([]byte(passphrase), salt, 1<<16, 8, 1, KeyBytes), nil
}

// BootstrapKey derives the fixed first-contact key for a chat with
// HKDF-SHA256 over the chat ID. Both parties derive the same key without an
// exchange; it is an explicit lower-security path, never a silent fallback.
func BootstrapKey(chatID string) ([]byte, error) {
	hk := hkdf.New(sha256.New, []byte(chatID), []byte("frostchat-bootstrap-v1"), nil)
	key := make([]byte, KeyBytes)
	if _, err := io.ReadFull(hk, key); err != nil {
		return nil, err
	}
	return key, nil
}

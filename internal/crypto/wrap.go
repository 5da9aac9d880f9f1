package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"frostchat/internal/domain"
)

// wrapLabel is the OAEP label binding wrapped blobs to this protocol.
var wrapLabel = []byte("frostchat-session-key")

// WrapKey encrypts session-key material under the recipient's public key
// with RSA-OAEP(SHA-256). Only the holder of the private half can recover it.
func WrapKey(key []byte, pub *rsa.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: missing public key", domain.ErrWrapFailure)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, wrapLabel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWrapFailure, err)
	}
	return wrapped, nil
}

// UnwrapKey recovers session-key material with the local private key.
func UnwrapKey(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: missing private key", domain.ErrUnwrapFailure)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, wrapLabel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnwrapFailure, err)
	}
	return key, nil
}

package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"frostchat/internal/domain"
)

// IdentityKeyBits is the RSA modulus size for identity key pairs.
const IdentityKeyBits = 2048

// NewSessionKey returns 256 bits of fresh CSPRNG key material.
func NewSessionKey() ([]byte, error) {
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailure, err)
	}
	return key, nil
}

// NewIdentityKeyPair generates an RSA-2048 key pair for OAEP wrapping.
//
// Generation takes hundreds of milliseconds; the identity service makes sure
// this runs at most once per identity per device, never per chat.
func NewIdentityKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, IdentityKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailure, err)
	}
	return priv, nil
}

// MarshalPublicKey encodes the public half as SPKI DER for the directory.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}

// ParsePublicKey decodes an SPKI DER public key fetched from the directory.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWrapFailure, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA public key", domain.ErrWrapFailure)
	}
	return pub, nil
}

// MarshalPrivateKey encodes the private half as PKCS#8 DER. The result is
// only ever written to the cache wrapped under the master key.
func MarshalPrivateKey(priv *rsa.PrivateKey) ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(priv)
}

// ParsePrivateKey decodes a PKCS#8 DER private key.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnwrapFailure, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", domain.ErrUnwrapFailure)
	}
	return priv, nil
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"frostchat/internal/domain"
)

const (
	// KeyBytes is the session-key size: 256 bits.
	KeyBytes = 32
	// NonceBytes is the GCM nonce size: 96 bits, fresh per Seal call.
	NonceBytes = 12
	// TagBytes is the GCM authentication tag size.
	TagBytes = 16
)

// Seal encrypts plaintext under a 256-bit key with AES-GCM and a fresh
// random nonce. Nonce reuse under the same key breaks GCM, so the nonce is
// always drawn from the CSPRNG, never derived or counted.
func Seal(plaintext, key, aad []byte) (domain.Envelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return domain.Envelope{}, err
	}
	nonce := make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %v", domain.ErrGenerationFailure, err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, aad)
	// GCM appends the tag; keep it as its own envelope field.
	split := len(sealed) - TagBytes
	return domain.Envelope{
		Nonce:      nonce,
		Ciphertext: sealed[:split],
		Tag:        sealed[split:],
	}, nil
}

// Open decrypts an envelope. Any failure, whether a wrong key, a flipped bit
// in ciphertext, nonce or tag, or a malformed envelope, is reported as
// domain.ErrAuthenticationFailure with no further detail.
func Open(env domain.Envelope, key, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, domain.ErrAuthenticationFailure
	}
	if len(env.Nonce) != NonceBytes || len(env.Tag) != TagBytes {
		return nil, domain.ErrAuthenticationFailure
	}
	sealed := make([]byte, 0, len(env.Ciphertext)+TagBytes)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)
	plain, err := aead.Open(nil, env.Nonce, sealed, aad)
	if err != nil {
		return nil, domain.ErrAuthenticationFailure
	}
	return plain, nil
}

// SealMessage binds content, sender and send time into one authenticated
// plaintext before sealing, so attribution tampering fails verification the
// same way payload tampering does.
func SealMessage(content, senderID string, sentAt time.Time, key, aad []byte) (domain.Envelope, error) {
	raw, err := json.Marshal(domain.Message{
		Content:  content,
		SenderID: senderID,
		SentAt:   sentAt.UTC(),
	})
	if err != nil {
		return domain.Envelope{}, err
	}
	return Seal(raw, key, aad)
}

// OpenMessage is the inverse of SealMessage. A sealed body that opens but
// does not parse is indistinguishable from a tag failure on purpose: callers
// must not learn which field made a forged input look almost valid.
func OpenMessage(env domain.Envelope, key, aad []byte) (domain.Message, error) {
	raw, err := Open(env, key, aad)
	if err != nil {
		return domain.Message{}, err
	}
	var msg domain.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.Message{}, domain.ErrAuthenticationFailure
	}
	return msg, nil
}

// EnvelopeAAD binds an envelope to its chat and key so it cannot be replayed
// against another conversation.
func EnvelopeAAD(chatID, keyID string) []byte {
	return []byte(chatID + "|" + keyID)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyBytes {
		return nil, fmt.Errorf("invalid key size %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

package domain

import "time"

// Envelope is the AEAD output for one message payload: ciphertext, the
// 96-bit nonce used for this call only, and the authentication tag kept as
// its own field so tampering with any one of the three fails verification.
// KeyID names the session key the envelope was sealed under, so receivers
// can resolve rotated-out keys for older messages.
type Envelope struct {
	KeyID      string `json:"key_id"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// Message is an authenticated message body. SenderID and SentAt live inside
// the sealed plaintext, so attribution and timing are tamper-evident too.
type Message struct {
	Content  string    `json:"content"`
	SenderID string    `json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

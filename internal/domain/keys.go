package domain

import "time"

// KeyStatus is the session-key handshake state.
//
// Transitions: pending -> sent -> received -> active, with expired terminal.
// A failed handshake leaves the chat with no key at all; partial state is
// abandoned rather than repaired.
type KeyStatus string

const (
	// KeyStatusPending: generated and cached by the initiator, not yet dispatched.
	KeyStatusPending KeyStatus = "pending"
	// KeyStatusSent: dispatched over at least one delivery path; sender ack set.
	KeyStatusSent KeyStatus = "sent"
	// KeyStatusReceived: unwrapped and acknowledged by the recipient.
	KeyStatusReceived KeyStatus = "received"
	// KeyStatusActive: both acknowledgments present; usable for new messages.
	KeyStatusActive KeyStatus = "active"
	// KeyStatusExpired: rotated out; retained only to decrypt older messages.
	KeyStatusExpired KeyStatus = "expired"
)

// CanTransition reports whether moving from s to next is a legal step of the
// handshake state machine.
func (s KeyStatus) CanTransition(next KeyStatus) bool {
	switch s {
	case KeyStatusPending:
		return next == KeyStatusSent
	case KeyStatusSent:
		return next == KeyStatusReceived || next == KeyStatusExpired
	case KeyStatusReceived:
		return next == KeyStatusActive || next == KeyStatusExpired
	case KeyStatusActive:
		return next == KeyStatusExpired
	default:
		return false
	}
}

// SessionKey is the authoritative per-chat key record held in the record
// store. It carries handshake metadata only; the 256-bit material itself
// lives in the local cache and, in transit, inside wrapped payloads.
//
// Exactly one SessionKey per chat is active at a time. Expired keys are never
// physically deleted while older messages may still reference them.
type SessionKey struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id"`
	Status         KeyStatus `json:"status"`
	InitiatorID    string    `json:"initiator_id"`
	RecipientID    string    `json:"recipient_id"`
	SenderAcked    bool      `json:"sender_acknowledged"`
	ReceiverAcked  bool      `json:"receiver_acknowledged"`
	CreatedAt      time.Time `json:"created_at"`
	LastRotationAt time.Time `json:"last_rotation_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// KeyMutation is applied atomically by a conditional store update.
// Nil pointer fields are left untouched.
type KeyMutation struct {
	Status         KeyStatus
	SenderAcked    *bool
	ReceiverAcked  *bool
	LastRotationAt *time.Time
}

// TransferStatus is the state of a fallback-path key transfer.
type TransferStatus string

const (
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusReceived TransferStatus = "received"
)

// KeyTransferRecord is the durable fallback-path record written when no relay
// endpoint acknowledges in time. One-shot: consumed exactly once by the
// intended recipient; a transfer past ExpiresAt is no longer live.
type KeyTransferRecord struct {
	ID          string         `json:"id"`
	ChatID      string         `json:"chat_id"`
	KeyID       string         `json:"key_id"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id"`
	WrappedKey  []byte         `json:"wrapped_key"`
	Status      TransferStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// IdentityRecord is the published half of a user's key pair: the SPKI DER
// encoding of an RSA-2048 public key. The private half never leaves the
// local cache unencrypted.
type IdentityRecord struct {
	UserID    string    `json:"user_id"`
	PublicKey []byte    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat is the local registry entry for a conversation. IsInitiator decides
// which party mints and rotates keys; the other party never rotates.
type Chat struct {
	ID          string `json:"id"`
	PeerID      string `json:"peer_id"`
	IsInitiator bool   `json:"is_initiator"`
}

package domain

import (
	"context"
	"crypto/rsa"
	"time"
)

// SessionKeyStore is the authoritative record store for session keys.
// UpdateSessionKey is conditional: it applies mut only while the record is
// still in the expected status, returning ErrConflict otherwise. Handshake
// transitions ride on this so duplicate acknowledgments are no-ops.
type SessionKeyStore interface {
	InsertSessionKey(ctx context.Context, k SessionKey) error
	UpdateSessionKey(ctx context.Context, id string, expect KeyStatus, mut KeyMutation) (SessionKey, error)
	GetSessionKey(ctx context.Context, id string) (SessionKey, bool, error)
	ActiveSessionKey(ctx context.Context, chatID string) (SessionKey, bool, error)
	SessionKeysByChat(ctx context.Context, chatID string) ([]SessionKey, error)
	DeleteSessionKey(ctx context.Context, id string) error
}

// TransferStore holds fallback-path key transfers.
type TransferStore interface {
	InsertTransfer(ctx context.Context, t KeyTransferRecord) error
	// PendingTransfers returns live (unconsumed, unexpired) transfers
	// addressed to the recipient.
	PendingTransfers(ctx context.Context, recipientID string, now time.Time) ([]KeyTransferRecord, error)
	// MarkTransferReceived consumes a transfer exactly once; ErrConflict if
	// it was already consumed.
	MarkTransferReceived(ctx context.Context, id string) error
}

// DirectoryStore maps user IDs to published identity public keys.
type DirectoryStore interface {
	PublishIdentity(ctx context.Context, rec IdentityRecord) error
	FetchIdentity(ctx context.Context, userID string) (IdentityRecord, bool, error)
}

// EventHandler receives one parsed relay event.
type EventHandler func(ctx context.Context, ev Event)

// Broadcast is the realtime fan-out channel: at-least-once, unordered,
// payloads a few KB at most. A nil Publish error means at least one
// transport acknowledged the frame.
type Broadcast interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(ctx context.Context, topic string, h EventHandler) (cancel func(), err error)
}

// CachedKey is a local copy of session-key material plus enough metadata to
// pick the right key for encrypt and decrypt. The cache is not a source of
// truth for status; the record store is.
type CachedKey struct {
	KeyID     string    `json:"key_id"`
	ChatID    string    `json:"chat_id"`
	Material  []byte    `json:"material"`
	Status    KeyStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// KeyCache is the secure local at-rest store, scoped to one authenticated
// session. Everything except explicit bootstrap keys is wrapped under the
// session master key before it touches disk.
type KeyCache interface {
	SaveIdentity(priv *rsa.PrivateKey) error
	LoadIdentity() (*rsa.PrivateKey, error)
	HasIdentity() (bool, error)

	PutSessionKey(k CachedKey) error
	ActiveKey(chatID string) (CachedKey, bool, error)
	KeyByID(keyID string) (CachedKey, bool, error)
	MarkKeyExpired(keyID string) error
	DeleteKey(keyID string) error

	PutBootstrapKey(chatID string, key []byte) error
	BootstrapKey(chatID string) ([]byte, bool, error)

	SaveChat(c Chat) error
	Chat(chatID string) (Chat, bool, error)
	Chats() ([]Chat, error)

	// ClearAll removes every stored entry. Invoked on logout; skipping it is
	// a confidentiality bug.
	ClearAll() error
}

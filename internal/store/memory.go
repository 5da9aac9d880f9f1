package store

import (
	"context"
	"sync"
	"time"

	"frostchat/internal/domain"
)

// Memory is an in-process implementation of the three record-store
// contracts. It backs unit tests and local examples; conditional-update
// semantics match the hosted store exactly.
type Memory struct {
	mu         sync.Mutex
	keys       map[string]domain.SessionKey
	transfers  map[string]domain.KeyTransferRecord
	identities map[string]domain.IdentityRecord
}

// NewMemory returns an empty in-memory record store.
func NewMemory() *Memory {
	return &Memory{
		keys:       make(map[string]domain.SessionKey),
		transfers:  make(map[string]domain.KeyTransferRecord),
		identities: make(map[string]domain.IdentityRecord),
	}
}

// ---------- SessionKeyStore ----------

func (m *Memory) InsertSessionKey(_ context.Context, k domain.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.ID] = k
	return nil
}

func (m *Memory) UpdateSessionKey(_ context.Context, id string, expect domain.KeyStatus, mut domain.KeyMutation) (domain.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok {
		return domain.SessionKey{}, domain.ErrKeyNotFound
	}
	if k.Status != expect {
		return domain.SessionKey{}, domain.ErrConflict
	}
	applyMutation(&k, mut)
	m.keys[id] = k
	return k, nil
}

func (m *Memory) GetSessionKey(_ context.Context, id string) (domain.SessionKey, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	return k, ok, nil
}

func (m *Memory) ActiveSessionKey(_ context.Context, chatID string) (domain.SessionKey, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.ChatID == chatID && k.Status == domain.KeyStatusActive {
			return k, true, nil
		}
	}
	return domain.SessionKey{}, false, nil
}

func (m *Memory) SessionKeysByChat(_ context.Context, chatID string) ([]domain.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SessionKey
	for _, k := range m.keys {
		if k.ChatID == chatID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) DeleteSessionKey(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

// ---------- TransferStore ----------

func (m *Memory) InsertTransfer(_ context.Context, t domain.KeyTransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers[t.ID] = t
	return nil
}

func (m *Memory) PendingTransfers(_ context.Context, recipientID string, now time.Time) ([]domain.KeyTransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.KeyTransferRecord
	for _, t := range m.transfers {
		if t.RecipientID == recipientID && t.Status == domain.TransferStatusPending && t.ExpiresAt.After(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) MarkTransferReceived(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.transfers[id]
	if !ok {
		return domain.ErrKeyNotFound
	}
	if t.Status != domain.TransferStatusPending {
		return domain.ErrConflict
	}
	t.Status = domain.TransferStatusReceived
	m.transfers[id] = t
	return nil
}

// ---------- DirectoryStore ----------

func (m *Memory) PublishIdentity(_ context.Context, rec domain.IdentityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[rec.UserID] = rec
	return nil
}

func (m *Memory) FetchIdentity(_ context.Context, userID string) (domain.IdentityRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.identities[userID]
	return rec, ok, nil
}

// applyMutation applies the non-nil fields of mut to k.
func applyMutation(k *domain.SessionKey, mut domain.KeyMutation) {
	if mut.Status != "" {
		k.Status = mut.Status
	}
	if mut.SenderAcked != nil {
		k.SenderAcked = *mut.SenderAcked
	}
	if mut.ReceiverAcked != nil {
		k.ReceiverAcked = *mut.ReceiverAcked
	}
	if mut.LastRotationAt != nil {
		k.LastRotationAt = *mut.LastRotationAt
	}
}

var (
	_ domain.SessionKeyStore = (*Memory)(nil)
	_ domain.TransferStore   = (*Memory)(nil)
	_ domain.DirectoryStore  = (*Memory)(nil)
)

package server

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"frostchat/internal/domain"
)

// sessionKeyModel is the gorm mapping of a session-key record.
type sessionKeyModel struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	ChatID         string    `gorm:"type:varchar(64);not null;index:idx_chat_id;index:idx_chat_status"`
	Status         string    `gorm:"type:varchar(16);not null;index:idx_chat_status"`
	InitiatorID    string    `gorm:"type:varchar(64);not null"`
	RecipientID    string    `gorm:"type:varchar(64);not null"`
	SenderAcked    bool      `gorm:"not null"`
	ReceiverAcked  bool      `gorm:"not null"`
	KeyCreatedAt   time.Time `gorm:"not null"`
	LastRotationAt time.Time `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (sessionKeyModel) TableName() string { return "session_keys" }

func (m *sessionKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *sessionKeyModel) toDomain() domain.SessionKey {
	return domain.SessionKey{
		ID:             m.ID,
		ChatID:         m.ChatID,
		Status:         domain.KeyStatus(m.Status),
		InitiatorID:    m.InitiatorID,
		RecipientID:    m.RecipientID,
		SenderAcked:    m.SenderAcked,
		ReceiverAcked:  m.ReceiverAcked,
		CreatedAt:      m.KeyCreatedAt,
		LastRotationAt: m.LastRotationAt,
		ExpiresAt:      m.ExpiresAt,
	}
}

func sessionKeyFromDomain(k domain.SessionKey) *sessionKeyModel {
	return &sessionKeyModel{
		ID:             k.ID,
		ChatID:         k.ChatID,
		Status:         string(k.Status),
		InitiatorID:    k.InitiatorID,
		RecipientID:    k.RecipientID,
		SenderAcked:    k.SenderAcked,
		ReceiverAcked:  k.ReceiverAcked,
		KeyCreatedAt:   k.CreatedAt,
		LastRotationAt: k.LastRotationAt,
		ExpiresAt:      k.ExpiresAt,
	}
}

// transferModel is the gorm mapping of a fallback key transfer.
type transferModel struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	ChatID      string    `gorm:"type:varchar(64);not null"`
	KeyID       string    `gorm:"type:char(36);not null"`
	SenderID    string    `gorm:"type:varchar(64);not null"`
	RecipientID string    `gorm:"type:varchar(64);not null;index:idx_recipient_status"`
	WrappedKey  []byte    `gorm:"type:blob;not null"`
	Status      string    `gorm:"type:varchar(16);not null;index:idx_recipient_status"`
	ExpiresAt   time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (transferModel) TableName() string { return "key_transfers" }

func (m *transferModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *transferModel) toDomain() domain.KeyTransferRecord {
	return domain.KeyTransferRecord{
		ID:          m.ID,
		ChatID:      m.ChatID,
		KeyID:       m.KeyID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		WrappedKey:  m.WrappedKey,
		Status:      domain.TransferStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
	}
}

func transferFromDomain(t domain.KeyTransferRecord) *transferModel {
	return &transferModel{
		ID:          t.ID,
		ChatID:      t.ChatID,
		KeyID:       t.KeyID,
		SenderID:    t.SenderID,
		RecipientID: t.RecipientID,
		WrappedKey:  t.WrappedKey,
		Status:      string(t.Status),
		ExpiresAt:   t.ExpiresAt,
	}
}

// identityModel is the gorm mapping of a published public key.
type identityModel struct {
	UserID    string    `gorm:"type:varchar(64);primaryKey"`
	PublicKey []byte    `gorm:"type:blob;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (identityModel) TableName() string { return "identities" }

func (m *identityModel) toDomain() domain.IdentityRecord {
	return domain.IdentityRecord{
		UserID:    m.UserID,
		PublicKey: m.PublicKey,
		CreatedAt: m.CreatedAt,
	}
}

// Migrate creates or updates the backend's tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionKeyModel{}, &transferModel{}, &identityModel{})
}

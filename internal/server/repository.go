package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"frostchat/internal/domain"
)

// Repository is the gorm-backed implementation of the three record stores.
//
// Conditional updates take the same shape as the client contract: the row
// must still be in the expected status, enforced in the WHERE clause, and a
// zero-row update on an existing record reports domain.ErrConflict.
type Repository struct {
	db *gorm.DB
}

// NewRepository returns a repository over db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertSessionKey(ctx context.Context, k domain.SessionKey) error {
	if err := r.db.WithContext(ctx).Create(sessionKeyFromDomain(k)).Error; err != nil {
		slog.ErrorContext(ctx, "failed to insert session key",
			"operation", "insert_session_key", "key_id", k.ID, "error", err)
		return err
	}
	return nil
}

func (r *Repository) UpdateSessionKey(ctx context.Context, id string, expect domain.KeyStatus, mut domain.KeyMutation) (domain.SessionKey, error) {
	updates := map[string]any{}
	if mut.Status != "" {
		updates["status"] = string(mut.Status)
	}
	if mut.SenderAcked != nil {
		updates["sender_acked"] = *mut.SenderAcked
	}
	if mut.ReceiverAcked != nil {
		updates["receiver_acked"] = *mut.ReceiverAcked
	}
	if mut.LastRotationAt != nil {
		updates["last_rotation_at"] = *mut.LastRotationAt
	}
	if len(updates) == 0 {
		return domain.SessionKey{}, fmt.Errorf("empty key mutation for %s", id)
	}

	res := r.db.WithContext(ctx).
		Model(&sessionKeyModel{}).
		Where("id = ? AND status = ?", id, string(expect)).
		Updates(updates)
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to update session key",
			"operation", "update_session_key", "key_id", id, "error", res.Error)
		return domain.SessionKey{}, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from a status race.
		if _, ok, err := r.GetSessionKey(ctx, id); err != nil {
			return domain.SessionKey{}, err
		} else if !ok {
			return domain.SessionKey{}, domain.ErrKeyNotFound
		}
		return domain.SessionKey{}, domain.ErrConflict
	}

	updated, ok, err := r.GetSessionKey(ctx, id)
	if err != nil {
		return domain.SessionKey{}, err
	}
	if !ok {
		return domain.SessionKey{}, domain.ErrKeyNotFound
	}
	return updated, nil
}

func (r *Repository) GetSessionKey(ctx context.Context, id string) (domain.SessionKey, bool, error) {
	var model sessionKeyModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SessionKey{}, false, nil
	}
	if err != nil {
		return domain.SessionKey{}, false, err
	}
	return model.toDomain(), true, nil
}

func (r *Repository) ActiveSessionKey(ctx context.Context, chatID string) (domain.SessionKey, bool, error) {
	var model sessionKeyModel
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND status = ?", chatID, string(domain.KeyStatusActive)).
		Order("key_created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SessionKey{}, false, nil
	}
	if err != nil {
		return domain.SessionKey{}, false, err
	}
	return model.toDomain(), true, nil
}

func (r *Repository) SessionKeysByChat(ctx context.Context, chatID string) ([]domain.SessionKey, error) {
	var models []sessionKeyModel
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("key_created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	keys := make([]domain.SessionKey, len(models))
	for i, m := range models {
		keys[i] = m.toDomain()
	}
	return keys, nil
}

func (r *Repository) DeleteSessionKey(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&sessionKeyModel{}, "id = ?", id).Error
}

func (r *Repository) InsertTransfer(ctx context.Context, t domain.KeyTransferRecord) error {
	if err := r.db.WithContext(ctx).Create(transferFromDomain(t)).Error; err != nil {
		slog.ErrorContext(ctx, "failed to insert transfer",
			"operation", "insert_transfer", "transfer_id", t.ID, "error", err)
		return err
	}
	return nil
}

func (r *Repository) PendingTransfers(ctx context.Context, recipientID string, now time.Time) ([]domain.KeyTransferRecord, error) {
	var models []transferModel
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND status = ? AND expires_at > ?",
			recipientID, string(domain.TransferStatusPending), now).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.KeyTransferRecord, len(models))
	for i, m := range models {
		out[i] = m.toDomain()
	}
	return out, nil
}

func (r *Repository) MarkTransferReceived(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&transferModel{}).
		Where("id = ? AND status = ?", id, string(domain.TransferStatusPending)).
		Update("status", string(domain.TransferStatusReceived))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&transferModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrKeyNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

func (r *Repository) PublishIdentity(ctx context.Context, rec domain.IdentityRecord) error {
	model := &identityModel{UserID: rec.UserID, PublicKey: rec.PublicKey}
	// Re-publishing replaces the stored key; last write wins.
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"public_key", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to publish identity",
			"operation", "publish_identity", "user_id", rec.UserID, "error", err)
	}
	return err
}

func (r *Repository) FetchIdentity(ctx context.Context, userID string) (domain.IdentityRecord, bool, error) {
	var model identityModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.IdentityRecord{}, false, nil
	}
	if err != nil {
		return domain.IdentityRecord{}, false, err
	}
	return model.toDomain(), true, nil
}

var (
	_ domain.SessionKeyStore = (*Repository)(nil)
	_ domain.TransferStore   = (*Repository)(nil)
	_ domain.DirectoryStore  = (*Repository)(nil)
)

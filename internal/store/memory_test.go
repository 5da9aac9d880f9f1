package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"frostchat/internal/domain"
	"frostchat/internal/store"
)

func TestMemory_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	k := domain.SessionKey{ID: "k1", ChatID: "c1", Status: domain.KeyStatusPending}
	if err := m.InsertSessionKey(ctx, k); err != nil {
		t.Fatalf("insert: %v", err)
	}

	acked := true
	got, err := m.UpdateSessionKey(ctx, "k1", domain.KeyStatusPending, domain.KeyMutation{
		Status:      domain.KeyStatusSent,
		SenderAcked: &acked,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != domain.KeyStatusSent || !got.SenderAcked {
		t.Fatalf("after update: %+v", got)
	}

	// Same transition again: the precondition no longer holds.
	if _, err := m.UpdateSessionKey(ctx, "k1", domain.KeyStatusPending, domain.KeyMutation{Status: domain.KeyStatusSent}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if _, err := m.UpdateSessionKey(ctx, "missing", domain.KeyStatusPending, domain.KeyMutation{}); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("want ErrKeyNotFound, got %v", err)
	}
}

func TestMemory_Transfers_OneShotAndExpiry(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now()

	live := domain.KeyTransferRecord{
		ID: "t1", RecipientID: "bob", Status: domain.TransferStatusPending,
		ExpiresAt: now.Add(time.Hour),
	}
	expired := domain.KeyTransferRecord{
		ID: "t2", RecipientID: "bob", Status: domain.TransferStatusPending,
		ExpiresAt: now.Add(-time.Minute),
	}
	for _, tr := range []domain.KeyTransferRecord{live, expired} {
		if err := m.InsertTransfer(ctx, tr); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	pending, err := m.PendingTransfers(ctx, "bob", now)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "t1" {
		t.Fatalf("want only the live transfer, got %+v", pending)
	}

	if err := m.MarkTransferReceived(ctx, "t1"); err != nil {
		t.Fatalf("receive: %v", err)
	}
	// One-shot: a second consume conflicts.
	if err := m.MarkTransferReceived(ctx, "t1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("want ErrConflict on double consume, got %v", err)
	}

	pending, err = m.PendingTransfers(ctx, "bob", now)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("consumed transfer still pending: %+v", pending)
	}
}

package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"frostchat/internal/domain"
	"frostchat/internal/infra"
	"frostchat/internal/relay"
	"frostchat/internal/server"
	"frostchat/internal/store"
)

// startBackend runs the full router over an in-memory database and returns
// the REST client pointed at it, exercising both sides of the wire contract.
func startBackend(t *testing.T) (*store.HTTP, *httptest.Server) {
	t.Helper()
	db, err := infra.NewDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := server.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := server.NewHandler(server.NewRepository(db))
	srv := httptest.NewServer(server.NewRouter(handler, server.NewHub(log), false))
	t.Cleanup(srv.Close)
	return store.NewHTTP(srv.URL, srv.Client()), srv
}

func TestRESTRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := startBackend(t)

	now := time.Now().UTC().Truncate(time.Second)
	key := domain.SessionKey{
		ID: "k1", ChatID: "chat-1", Status: domain.KeyStatusPending,
		InitiatorID: "alice", RecipientID: "bob",
		CreatedAt: now, LastRotationAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := client.InsertSessionKey(ctx, key); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, ok, err := client.GetSessionKey(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.ChatID != "chat-1" || got.Status != domain.KeyStatusPending {
		t.Fatalf("got = %+v", got)
	}

	acked := true
	updated, err := client.UpdateSessionKey(ctx, "k1", domain.KeyStatusPending, domain.KeyMutation{
		Status:      domain.KeyStatusSent,
		SenderAcked: &acked,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != domain.KeyStatusSent || !updated.SenderAcked {
		t.Fatalf("updated = %+v", updated)
	}

	// Stale expectation surfaces as ErrConflict through the client.
	if _, err := client.UpdateSessionKey(ctx, "k1", domain.KeyStatusPending, domain.KeyMutation{
		Status: domain.KeyStatusSent,
	}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	if _, ok, err := client.GetSessionKey(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing get: ok=%v err=%v", ok, err)
	}
}

func TestRESTActiveKeyFilter(t *testing.T) {
	ctx := context.Background()
	client, _ := startBackend(t)
	now := time.Now().UTC()

	for _, k := range []domain.SessionKey{
		{ID: "k1", ChatID: "chat-1", Status: domain.KeyStatusExpired, InitiatorID: "alice", RecipientID: "bob", CreatedAt: now.Add(-time.Hour), LastRotationAt: now, ExpiresAt: now},
		{ID: "k2", ChatID: "chat-1", Status: domain.KeyStatusActive, InitiatorID: "alice", RecipientID: "bob", CreatedAt: now, LastRotationAt: now, ExpiresAt: now.Add(24 * time.Hour)},
	} {
		if err := client.InsertSessionKey(ctx, k); err != nil {
			t.Fatalf("insert %s: %v", k.ID, err)
		}
	}

	active, ok, err := client.ActiveSessionKey(ctx, "chat-1")
	if err != nil || !ok {
		t.Fatalf("active: ok=%v err=%v", ok, err)
	}
	if active.ID != "k2" {
		t.Fatalf("active = %s, want k2", active.ID)
	}
	all, err := client.SessionKeysByChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("by chat: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d keys, want 2", len(all))
	}
}

func TestRESTTransfersAndDirectory(t *testing.T) {
	ctx := context.Background()
	client, _ := startBackend(t)
	now := time.Now().UTC()

	tr := domain.KeyTransferRecord{
		ID: "t1", ChatID: "chat-1", KeyID: "k1",
		SenderID: "alice", RecipientID: "bob",
		WrappedKey: []byte{9, 9, 9},
		Status:     domain.TransferStatusPending,
		ExpiresAt:  now.Add(time.Hour),
	}
	if err := client.InsertTransfer(ctx, tr); err != nil {
		t.Fatalf("insert transfer: %v", err)
	}
	pending, err := client.PendingTransfers(ctx, "bob", now)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "t1" {
		t.Fatalf("pending = %+v", pending)
	}
	if err := client.MarkTransferReceived(ctx, "t1"); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := client.MarkTransferReceived(ctx, "t1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second receive err = %v, want ErrConflict", err)
	}

	if err := client.PublishIdentity(ctx, domain.IdentityRecord{UserID: "alice", PublicKey: []byte("pk")}); err != nil {
		t.Fatalf("publish identity: %v", err)
	}
	rec, ok, err := client.FetchIdentity(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("fetch identity: ok=%v err=%v", ok, err)
	}
	if string(rec.PublicKey) != "pk" {
		t.Fatalf("public key %q", rec.PublicKey)
	}
	if _, ok, _ := client.FetchIdentity(ctx, "nobody"); ok {
		t.Fatal("missing identity reported present")
	}
}

func TestRealtimeHubEndToEnd(t *testing.T) {
	ctx := context.Background()
	_, srv := startBackend(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/realtime"
	pub, err := relay.Dial(ctx, wsURL, log)
	if err != nil {
		t.Fatalf("dial publisher: %v", err)
	}
	defer pub.Close()
	sub, err := relay.Dial(ctx, wsURL, log)
	if err != nil {
		t.Fatalf("dial subscriber: %v", err)
	}
	defer sub.Close()

	got := make(chan domain.Event, 8)
	if _, err := sub.Subscribe(ctx, domain.KeyTopic("bob"), func(_ context.Context, ev domain.Event) {
		got <- ev
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := domain.Event{
		ID: "ev1", Type: domain.EventKeyDelivery,
		ChatID: "chat-1", KeyID: "k1",
		SenderID: "alice", RecipientID: "bob",
		WrappedKey: []byte{1},
	}
	// The subscribe frame races the publish over two connections.
	deadline := time.After(5 * time.Second)
	for {
		pubCtx, cancel := context.WithTimeout(ctx, time.Second)
		err = pub.Publish(pubCtx, domain.KeyTopic("bob"), ev)
		cancel()
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case in := <-got:
			if in.ID != "ev1" || in.Type != domain.EventKeyDelivery {
				t.Fatalf("event = %+v", in)
			}
			return
		case <-time.After(200 * time.Millisecond):
		case <-deadline:
			t.Fatal("subscribed event never arrived")
		}
	}
}

func TestRealtimeHubRejectsMalformedEvent(t *testing.T) {
	ctx := context.Background()
	_, srv := startBackend(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/realtime"
	pub, err := relay.Dial(ctx, wsURL, log)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer pub.Close()

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = pub.Publish(pubCtx, "keys.bob", domain.Event{ID: "ev1", Type: "bogus"})
	if err == nil {
		t.Fatal("malformed event was acked")
	}
}

package exchange_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"frostchat/internal/crypto"
	"frostchat/internal/domain"
	"frostchat/internal/relay"
	"frostchat/internal/services/exchange"
	"frostchat/internal/store"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type party struct {
	id    string
	cache *store.KeyCache
	svc   *exchange.Service
}

// newParty builds one participant: a cache with a generated identity whose
// public half is published, and an exchange service over the shared records.
func newParty(t *testing.T, id string, mem *store.Memory, broadcast domain.Broadcast) *party {
	t.Helper()
	cache, err := store.OpenKeyCache(t.TempDir(), "test-passphrase")
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	priv, err := crypto.NewIdentityKeyPair()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	if err := cache.SaveIdentity(priv); err != nil {
		t.Fatalf("save identity: %v", err)
	}
	der, err := crypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	if err := mem.PublishIdentity(context.Background(), domain.IdentityRecord{UserID: id, PublicKey: der}); err != nil {
		t.Fatalf("publish identity: %v", err)
	}
	return &party{
		id:    id,
		cache: cache,
		svc:   exchange.New(mem, mem, mem, broadcast, cache, nil, discardLog()),
	}
}

// listen wires the party's key topic to its exchange handlers.
func (p *party) listen(t *testing.T, hub *relay.Hub) {
	t.Helper()
	_, err := hub.Endpoint().Subscribe(context.Background(), domain.KeyTopic(p.id), func(ctx context.Context, ev domain.Event) {
		switch ev.Type {
		case domain.EventKeyDelivery:
			_ = p.svc.HandleDelivery(ctx, ev, p.id)
		case domain.EventKeyAck:
			_ = p.svc.HandleAck(ctx, ev)
		}
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", p.id, err)
	}
}

func material(t *testing.T, c *store.KeyCache, keyID string) []byte {
	t.Helper()
	k, ok, err := c.KeyByID(keyID)
	if err != nil || !ok {
		t.Fatalf("key %s not cached: ok=%v err=%v", keyID, ok, err)
	}
	return k.Material
}

var chatAB = domain.Chat{ID: "chat-ab", PeerID: "bob", IsInitiator: true}

func TestExchange_HappyPath(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()

	alice := newParty(t, "alice", mem, relay.NewGroup(hub.Endpoint()))
	bob := newParty(t, "bob", mem, relay.NewGroup(hub.Endpoint()))
	alice.listen(t, hub)
	bob.listen(t, hub)

	key, err := alice.svc.InitializeChatKey(ctx, chatAB, "alice")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	record, ok, err := mem.GetSessionKey(ctx, key.ID)
	if err != nil || !ok {
		t.Fatalf("record lost: ok=%v err=%v", ok, err)
	}
	if record.Status != domain.KeyStatusActive {
		t.Fatalf("status %q, want active", record.Status)
	}
	if !record.SenderAcked || !record.ReceiverAcked {
		t.Fatalf("ack flags %v/%v, want both", record.SenderAcked, record.ReceiverAcked)
	}

	// Both parties hold the same material.
	am := material(t, alice.cache, key.ID)
	bm := material(t, bob.cache, key.ID)
	if !bytes.Equal(am, bm) {
		t.Fatal("parties hold different key material")
	}

	// "hello" sealed by the initiator opens on the recipient side.
	aad := crypto.EnvelopeAAD(chatAB.ID, key.ID)
	env, err := crypto.SealMessage("hello", "alice", time.Now(), am, aad)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	msg, err := crypto.OpenMessage(env, bm, aad)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if msg.Content != "hello" {
		t.Fatalf("content %q", msg.Content)
	}
}

func TestExchange_FallbackPath(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()

	// The initiator's relay endpoints never ack.
	dead := hub.Endpoint()
	dead.PublishErr = errors.New("endpoint down")
	alice := newParty(t, "alice", mem, relay.NewGroup(dead))
	alice.svc.RelayTimeout = 50 * time.Millisecond
	bob := newParty(t, "bob", mem, relay.NewGroup(hub.Endpoint()))
	alice.listen(t, hub)

	key, err := alice.svc.InitializeChatKey(ctx, chatAB, "alice")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if key.Status != domain.KeyStatusSent {
		t.Fatalf("status %q, want sent via fallback write", key.Status)
	}

	// The durable transfer is waiting for the recipient.
	pending, err := mem.PendingTransfers(ctx, "bob", time.Now())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].KeyID != key.ID {
		t.Fatalf("want one pending transfer for the key, got %+v", pending)
	}

	// Recipient polls, unwraps, acks: the key activates through the
	// fallback path alone.
	n, err := bob.svc.PollTransfers(ctx, "bob")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 1 {
		t.Fatalf("accepted %d transfers, want 1", n)
	}

	record, _, err := mem.GetSessionKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != domain.KeyStatusActive {
		t.Fatalf("status %q, want active", record.Status)
	}
	if !bytes.Equal(material(t, alice.cache, key.ID), material(t, bob.cache, key.ID)) {
		t.Fatal("parties hold different key material")
	}
}

func TestExchange_ActivationIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()

	alice := newParty(t, "alice", mem, relay.NewGroup(hub.Endpoint()))
	bob := newParty(t, "bob", mem, relay.NewGroup(hub.Endpoint()))
	alice.listen(t, hub)
	bob.listen(t, hub)

	key, err := alice.svc.InitializeChatKey(ctx, chatAB, "alice")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Duplicate acks and a redelivery, in both directions: no error, and the
	// record never leaves active.
	dupAck := domain.Event{ID: "dup-ack", Type: domain.EventKeyAck, ChatID: chatAB.ID, KeyID: key.ID, SenderID: "bob", RecipientID: "alice"}
	for i := 0; i < 3; i++ {
		if err := alice.svc.HandleAck(ctx, dupAck); err != nil {
			t.Fatalf("duplicate ack %d: %v", i, err)
		}
	}

	wrapped := make([]byte, 256)
	dupDelivery := domain.Event{ID: "dup-del", Type: domain.EventKeyDelivery, ChatID: chatAB.ID, KeyID: key.ID, SenderID: "alice", RecipientID: "bob", WrappedKey: wrapped}
	if err := bob.svc.HandleDelivery(ctx, dupDelivery, "bob"); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}

	all, err := mem.SessionKeysByChat(ctx, chatAB.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Status != domain.KeyStatusActive {
		t.Fatalf("want exactly one active key, got %+v", all)
	}
}

func TestExchange_StaleAckIgnored(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	alice := newParty(t, "alice", mem, relay.NewGroup(relay.NewHub().Endpoint()))

	// Ack for a key that never existed.
	err := alice.svc.HandleAck(ctx, domain.Event{ID: "e", Type: domain.EventKeyAck, ChatID: "c", KeyID: "ghost"})
	if !errors.Is(err, domain.ErrStaleAck) {
		t.Fatalf("want ErrStaleAck for unknown key, got %v", err)
	}

	// Ack for an expired key must not be reapplied.
	expired := domain.SessionKey{ID: "old", ChatID: "c", Status: domain.KeyStatusExpired}
	if err := mem.InsertSessionKey(ctx, expired); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = alice.svc.HandleAck(ctx, domain.Event{ID: "e2", Type: domain.EventKeyAck, ChatID: "c", KeyID: "old"})
	if !errors.Is(err, domain.ErrStaleAck) {
		t.Fatalf("want ErrStaleAck for expired key, got %v", err)
	}
	got, _, _ := mem.GetSessionKey(ctx, "old")
	if got.Status != domain.KeyStatusExpired || got.ReceiverAcked {
		t.Fatalf("stale ack mutated the record: %+v", got)
	}
}

// failingTransfers makes the fallback path's durable write fail.
type failingTransfers struct {
	*store.Memory
}

func (f *failingTransfers) InsertTransfer(context.Context, domain.KeyTransferRecord) error {
	return errors.New("store write refused")
}

func TestExchange_BothPathsFail_AbandonsHandshake(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()
	dead := hub.Endpoint()
	dead.PublishErr = errors.New("endpoint down")

	cache, err := store.OpenKeyCache(t.TempDir(), "pass")
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	// Recipient identity must exist so failure happens at delivery, not wrap.
	bob := newParty(t, "bob", mem, relay.NewGroup(hub.Endpoint()))
	_ = bob

	svc := exchange.New(mem, &failingTransfers{mem}, mem, relay.NewGroup(dead), cache, nil, discardLog())
	svc.RelayTimeout = 50 * time.Millisecond

	_, err = svc.InitializeChatKey(ctx, chatAB, "alice")
	if !errors.Is(err, domain.ErrDeliveryTimeout) {
		t.Fatalf("want ErrDeliveryTimeout, got %v", err)
	}

	// The partial handshake is abandoned, not left to resume: no record, no
	// cached material.
	all, err := mem.SessionKeysByChat(ctx, chatAB.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("abandoned key record survived: %+v", all)
	}
	if _, ok, _ := cache.ActiveKey(chatAB.ID); ok {
		t.Fatal("abandoned key still cached")
	}

	// The whole handshake can be retried once the fallback store recovers.
	retry := exchange.New(mem, mem, mem, relay.NewGroup(dead), cache, nil, discardLog())
	retry.RelayTimeout = 50 * time.Millisecond
	key, err := retry.InitializeChatKey(ctx, chatAB, "alice")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if key.Status != domain.KeyStatusSent {
		t.Fatalf("retry status %q", key.Status)
	}
}

func TestExchange_SecondInitialize_Coalesces(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()
	dead := hub.Endpoint()
	dead.PublishErr = errors.New("endpoint down")

	bob := newParty(t, "bob", mem, relay.NewGroup(hub.Endpoint()))
	_ = bob
	alice := newParty(t, "alice", mem, relay.NewGroup(dead))
	alice.svc.RelayTimeout = 50 * time.Millisecond

	first, err := alice.svc.InitializeChatKey(ctx, chatAB, "alice")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// The first handshake is parked at sent until the peer polls; a second
	// call must not mint a competing key.
	second, err := alice.svc.InitializeChatKey(ctx, chatAB, "alice")
	if !errors.Is(err, domain.ErrExchangeInFlight) {
		t.Fatalf("want ErrExchangeInFlight, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second call minted a new key %s alongside %s", second.ID, first.ID)
	}
	all, _ := mem.SessionKeysByChat(ctx, chatAB.ID)
	if len(all) != 1 {
		t.Fatalf("want one key record, got %d", len(all))
	}
}

func TestExchange_RotateRequiresInitiator(t *testing.T) {
	mem := store.NewMemory()
	alice := newParty(t, "alice", mem, relay.NewGroup(relay.NewHub().Endpoint()))

	follower := domain.Chat{ID: "chat-ab", PeerID: "alice", IsInitiator: false}
	if _, err := alice.svc.RotateChatKey(context.Background(), follower, "bob"); err == nil {
		t.Fatal("non-initiator was allowed to rotate")
	}
}

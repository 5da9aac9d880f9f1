package channel_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"frostchat/internal/crypto"
	"frostchat/internal/domain"
	"frostchat/internal/relay"
	"frostchat/internal/services/channel"
	"frostchat/internal/services/exchange"
	"frostchat/internal/store"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type party struct {
	id      string
	cache   *store.KeyCache
	svc     *exchange.Service
	channel *channel.Service
}

func newParty(t *testing.T, id string, mem *store.Memory, hub *relay.Hub) *party {
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
	svc := exchange.New(mem, mem, mem, relay.NewGroup(hub.Endpoint()), cache, nil, discardLog())
	p := &party{
		id:      id,
		cache:   cache,
		svc:     svc,
		channel: channel.New(cache, svc, discardLog()),
	}
	_, err = hub.Endpoint().Subscribe(context.Background(), domain.KeyTopic(id), func(ctx context.Context, ev domain.Event) {
		switch ev.Type {
		case domain.EventKeyDelivery:
			_ = svc.HandleDelivery(ctx, ev, id)
		case domain.EventKeyAck:
			_ = svc.HandleAck(ctx, ev)
		}
	})
	if err != nil {
		t.Fatalf("subscribe %s: %v", id, err)
	}
	return p
}

func TestActiveKey_InitiatorBootstrapsOnMiss(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()
	alice := newParty(t, "alice", mem, hub)
	newParty(t, "bob", mem, hub)

	chat := domain.Chat{ID: "chat-ab", PeerID: "bob", IsInitiator: true}
	if err := alice.cache.SaveChat(chat); err != nil {
		t.Fatalf("save chat: %v", err)
	}

	k, err := alice.channel.ActiveKey(ctx, chat.ID, "alice")
	if err != nil {
		t.Fatalf("active key: %v", err)
	}
	if len(k.Material) != 32 {
		t.Fatalf("material length %d", len(k.Material))
	}

	// Second call is a plain cache hit on the same key.
	again, err := alice.channel.ActiveKey(ctx, chat.ID, "alice")
	if err != nil {
		t.Fatalf("active key (cached): %v", err)
	}
	if again.KeyID != k.KeyID {
		t.Fatalf("cache hit returned a different key: %s != %s", again.KeyID, k.KeyID)
	}
}

func TestActiveKey_NonInitiatorWaits(t *testing.T) {
	ctx := context.Background()
	bob := newParty(t, "bob", store.NewMemory(), relay.NewHub())
	chat := domain.Chat{ID: "chat-ab", PeerID: "alice", IsInitiator: false}
	if err := bob.cache.SaveChat(chat); err != nil {
		t.Fatalf("save chat: %v", err)
	}

	_, err := bob.channel.ActiveKey(ctx, chat.ID, "bob")
	if !errors.Is(err, domain.ErrNoKey) {
		t.Fatalf("err = %v, want ErrNoKey", err)
	}
	// An unregistered chat reads the same way.
	_, err = bob.channel.ActiveKey(ctx, "chat-unknown", "bob")
	if !errors.Is(err, domain.ErrNoKey) {
		t.Fatalf("unknown chat err = %v, want ErrNoKey", err)
	}
}

func TestMessageRoundTripAcrossParties(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()
	alice := newParty(t, "alice", mem, hub)
	bob := newParty(t, "bob", mem, hub)
	chat := domain.Chat{ID: "chat-ab", PeerID: "bob", IsInitiator: true}
	if err := alice.cache.SaveChat(chat); err != nil {
		t.Fatalf("save chat: %v", err)
	}

	env, err := alice.channel.EncryptMessage(ctx, chat.ID, "alice", "hello bob")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if env.KeyID == "" {
		t.Fatal("envelope carries no key id")
	}

	msg, err := bob.channel.DecryptMessage(ctx, chat.ID, env)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if msg.Content != "hello bob" || msg.SenderID != "alice" {
		t.Fatalf("message = %+v", msg)
	}

	// A different chat's AAD must not open it.
	if _, err := bob.channel.DecryptMessage(ctx, "chat-other", env); !errors.Is(err, domain.ErrAuthenticationFailure) {
		t.Fatalf("cross-chat decrypt err = %v, want ErrAuthenticationFailure", err)
	}
}

func TestDecryptAfterRotation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()
	alice := newParty(t, "alice", mem, hub)
	bob := newParty(t, "bob", mem, hub)
	chat := domain.Chat{ID: "chat-ab", PeerID: "bob", IsInitiator: true}
	if err := alice.cache.SaveChat(chat); err != nil {
		t.Fatalf("save chat: %v", err)
	}

	env, err := alice.channel.EncryptMessage(ctx, chat.ID, "alice", "before rotation")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	k2, err := alice.svc.RotateChatKey(ctx, chat, "alice")
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if k2.ID == env.KeyID {
		t.Fatal("rotation reused the key id")
	}

	// Old envelope still opens via its own (now expired) key.
	msg, err := bob.channel.DecryptMessage(ctx, chat.ID, env)
	if err != nil {
		t.Fatalf("decrypt after rotation: %v", err)
	}
	if msg.Content != "before rotation" {
		t.Fatalf("content %q", msg.Content)
	}

	// New traffic seals under the successor.
	env2, err := alice.channel.EncryptMessage(ctx, chat.ID, "alice", "after rotation")
	if err != nil {
		t.Fatalf("encrypt after rotation: %v", err)
	}
	if env2.KeyID != k2.ID {
		t.Fatalf("sealed under %s, want successor %s", env2.KeyID, k2.ID)
	}
}

func TestDecryptMessage_UnknownKey(t *testing.T) {
	bob := newParty(t, "bob", store.NewMemory(), relay.NewHub())
	env := domain.Envelope{KeyID: "nope", Nonce: make([]byte, 12), Ciphertext: []byte{1}, Tag: make([]byte, 16)}
	_, err := bob.channel.DecryptMessage(context.Background(), "chat-ab", env)
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("err = %v, want ErrKeyNotFound", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hub := relay.NewHub()
	alice := newParty(t, "alice", mem, hub)
	bob := newParty(t, "bob", mem, hub)
	chat := domain.Chat{ID: "chat-ab", PeerID: "bob", IsInitiator: true}
	if err := alice.cache.SaveChat(chat); err != nil {
		t.Fatalf("save chat: %v", err)
	}

	payload := []byte{0x00, 0xff, 0x10, 0x7f}
	env, err := alice.channel.EncryptPayload(ctx, chat.ID, "alice", payload)
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}
	got, err := bob.channel.DecryptPayload(ctx, chat.ID, env)
	if err != nil {
		t.Fatalf("decrypt payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %x, want %x", got, payload)
	}
}

func TestBootstrapKey_DeterministicAndCached(t *testing.T) {
	alice := newParty(t, "alice", store.NewMemory(), relay.NewHub())
	bob := newParty(t, "bob", store.NewMemory(), relay.NewHub())

	ka, err := alice.channel.BootstrapKey("chat-ab")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	kb, err := bob.channel.BootstrapKey("chat-ab")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !bytes.Equal(ka, kb) {
		t.Fatal("both parties should derive the same bootstrap key")
	}
	other, err := alice.channel.BootstrapKey("chat-other")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if bytes.Equal(ka, other) {
		t.Fatal("distinct chats derived the same bootstrap key")
	}
	again, err := alice.channel.BootstrapKey("chat-ab")
	if err != nil {
		t.Fatalf("bootstrap (cached): %v", err)
	}
	if !bytes.Equal(ka, again) {
		t.Fatal("cached bootstrap key changed")
	}
}

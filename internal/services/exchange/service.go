package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"frostchat/internal/crypto"
	"frostchat/internal/domain"
	"frostchat/internal/util/memzero"
)

const (
	// DefaultRelayTimeout bounds the relay delivery race before the durable
	// fallback path is tried.
	DefaultRelayTimeout = 10 * time.Second
	// DefaultTransferTTL is how long an unconsumed fallback transfer stays live.
	DefaultTransferTTL = time.Hour
	// DefaultRotationAge is the forced-rotation interval recorded on new keys.
	DefaultRotationAge = 24 * time.Hour
	// ackTimeout bounds the best-effort acknowledgment publish on receipt.
	ackTimeout = 5 * time.Second
)

// Service orchestrates wrap, transmit and acknowledge across the relay and
// fallback delivery paths, and owns the session-key state machine.
type Service struct {
	keys      domain.SessionKeyStore
	transfers domain.TransferStore
	directory domain.DirectoryStore
	broadcast domain.Broadcast
	cache     domain.KeyCache
	clock     clock.Clock
	log       *slog.Logger

	// RelayTimeout and TransferTTL default to the protocol values; tests
	// shorten them.
	RelayTimeout time.Duration
	TransferTTL  time.Duration
	RotationAge  time.Duration

	flight singleflight.Group
}

// New constructs the exchange service. A nil clk means the wall clock.
func New(
	keys domain.SessionKeyStore,
	transfers domain.TransferStore,
	directory domain.DirectoryStore,
	broadcast domain.Broadcast,
	cache domain.KeyCache,
	clk clock.Clock,
	log *slog.Logger,
) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		keys:         keys,
		transfers:    transfers,
		directory:    directory,
		broadcast:    broadcast,
		cache:        cache,
		clock:        clk,
		log:          log,
		RelayTimeout: DefaultRelayTimeout,
		TransferTTL:  DefaultTransferTTL,
		RotationAge:  DefaultRotationAge,
	}
}

// InitializeChatKey mints and distributes the chat's session key as the
// initiating party.
//
// Concurrent calls for the same chat coalesce into one handshake; a call
// while a previous handshake is still pending/sent/received returns that
// key together with ErrExchangeInFlight. On total delivery failure the
// partial record and cache entry are removed and ErrDeliveryTimeout is
// returned: the caller retries the whole handshake, never half of one.
func (s *Service) InitializeChatKey(ctx context.Context, chat domain.Chat, userID string) (domain.SessionKey, error) {
	v, err, _ := s.flight.Do(chat.ID, func() (any, error) {
		if inflight, ok, err := s.inFlightKey(ctx, chat.ID); err != nil {
			return domain.SessionKey{}, err
		} else if ok {
			return inflight, domain.ErrExchangeInFlight
		}
		return s.mintAndDeliver(ctx, chat, userID)
	})
	return v.(domain.SessionKey), err
}

// RotateChatKey mints a successor for the chat's active key. Only the
// initiator rotates; the predecessor is expired only after the successor
// has reached at least sent, so the chat is never left without a usable
// key for new outgoing messages.
func (s *Service) RotateChatKey(ctx context.Context, chat domain.Chat, userID string) (domain.SessionKey, error) {
	if !chat.IsInitiator {
		return domain.SessionKey{}, fmt.Errorf("chat %s: only the initiator rotates keys", chat.ID)
	}
	v, err, _ := s.flight.Do(chat.ID, func() (any, error) {
		return s.mintAndDeliver(ctx, chat, userID)
	})
	return v.(domain.SessionKey), err
}

// mintAndDeliver generates a key, records it pending, caches it for
// immediate sending, delivers it over both paths, and finally expires any
// older active key for the chat.
func (s *Service) mintAndDeliver(ctx context.Context, chat domain.Chat, userID string) (domain.SessionKey, error) {
	material, err := crypto.NewSessionKey()
	if err != nil {
		return domain.SessionKey{}, err
	}
	defer memzero.Zero(material)

	now := s.clock.Now().UTC()
	key := domain.SessionKey{
		ID:             uuid.NewString(),
		ChatID:         chat.ID,
		Status:         domain.KeyStatusPending,
		InitiatorID:    userID,
		RecipientID:    chat.PeerID,
		CreatedAt:      now,
		LastRotationAt: now,
		ExpiresAt:      now.Add(s.RotationAge),
	}
	if err := s.keys.InsertSessionKey(ctx, key); err != nil {
		return domain.SessionKey{}, err
	}
	// Cache before delivery: confidentiality of outgoing messages needs only
	// the sender to hold the key.
	if err := s.cache.PutSessionKey(domain.CachedKey{
		KeyID:     key.ID,
		ChatID:    chat.ID,
		Material:  append([]byte(nil), material...),
		Status:    domain.KeyStatusPending,
		CreatedAt: now,
	}); err != nil {
		return domain.SessionKey{}, err
	}

	if err := s.deliver(ctx, key, material); err != nil {
		// Abandon the partial handshake; redoing generation is cheap and
		// avoids trusting half of a broken one.
		if derr := s.keys.DeleteSessionKey(ctx, key.ID); derr != nil {
			s.log.WarnContext(ctx, "abandoned key record not deleted", "key_id", key.ID, "error", derr)
		}
		if derr := s.cache.DeleteKey(key.ID); derr != nil {
			s.log.WarnContext(ctx, "abandoned key not evicted from cache", "key_id", key.ID, "error", derr)
		}
		return domain.SessionKey{}, err
	}

	if err := s.expirePredecessors(ctx, key); err != nil {
		s.log.WarnContext(ctx, "predecessor keys not expired", "chat_id", chat.ID, "error", err)
	}

	sent, ok, err := s.keys.GetSessionKey(ctx, key.ID)
	if err != nil || !ok {
		return key, err
	}
	return sent, nil
}

// deliver wraps the key for the recipient and runs the two-path protocol.
func (s *Service) deliver(ctx context.Context, key domain.SessionKey, material []byte) error {
	rec, ok, err := s.directory.FetchIdentity(ctx, key.RecipientID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s has not published an identity", domain.ErrWrapFailure, key.RecipientID)
	}
	pub, err := crypto.ParsePublicKey(rec.PublicKey)
	if err != nil {
		return err
	}
	wrapped, err := crypto.WrapKey(material, pub)
	if err != nil {
		return err
	}

	ev := domain.Event{
		ID:          uuid.NewString(),
		Type:        domain.EventKeyDelivery,
		ChatID:      key.ChatID,
		KeyID:       key.ID,
		SenderID:    key.InitiatorID,
		RecipientID: key.RecipientID,
		WrappedKey:  wrapped,
	}

	// Path 1: the relay race, bounded by RelayTimeout. The cancel tears the
	// race down before the fallback path runs, so a late relay ack cannot
	// re-trigger handshake logic afterwards.
	relayCtx, cancel := context.WithTimeout(ctx, s.RelayTimeout)
	relayErr := s.broadcast.Publish(relayCtx, domain.KeyTopic(key.RecipientID), ev)
	cancel()
	if relayErr == nil {
		return s.markSent(ctx, key.ID)
	}
	s.log.InfoContext(ctx, "relay path failed, using fallback store",
		"chat_id", key.ChatID, "key_id", key.ID, "error", relayErr)

	// Path 2: durable store-and-poll.
	now := s.clock.Now().UTC()
	transfer := domain.KeyTransferRecord{
		ID:          uuid.NewString(),
		ChatID:      key.ChatID,
		KeyID:       key.ID,
		SenderID:    key.InitiatorID,
		RecipientID: key.RecipientID,
		WrappedKey:  wrapped,
		Status:      domain.TransferStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.TransferTTL),
	}
	if err := s.transfers.InsertTransfer(ctx, transfer); err != nil {
		return fmt.Errorf("%w: relay: %v; fallback: %v", domain.ErrDeliveryTimeout, relayErr, err)
	}
	return s.markSent(ctx, key.ID)
}

// markSent records dispatch: pending -> sent with the sender ack flag. If
// the recipient raced the record past pending already, only the flag is
// recorded and activation is re-checked.
func (s *Service) markSent(ctx context.Context, keyID string) error {
	acked := true
	_, err := s.keys.UpdateSessionKey(ctx, keyID, domain.KeyStatusPending, domain.KeyMutation{
		Status:      domain.KeyStatusSent,
		SenderAcked: &acked,
	})
	if errors.Is(err, domain.ErrConflict) {
		// The recipient's receipt raced the record past pending; just make
		// sure our ack flag lands.
		k, ok, gerr := s.keys.GetSessionKey(ctx, keyID)
		if gerr != nil || !ok {
			return gerr
		}
		if !k.SenderAcked {
			if _, uerr := s.keys.UpdateSessionKey(ctx, keyID, k.Status, domain.KeyMutation{SenderAcked: &acked}); uerr != nil && !errors.Is(uerr, domain.ErrConflict) {
				return uerr
			}
		}
	} else if err != nil {
		return err
	}
	return s.tryActivate(ctx, keyID)
}

// HandleDelivery processes a wrapped key arriving over the relay path.
// Deliveries for unknown or already expired keys are stale and ignored.
func (s *Service) HandleDelivery(ctx context.Context, ev domain.Event, userID string) error {
	if ev.Type != domain.EventKeyDelivery || ev.RecipientID != userID {
		return nil
	}
	record, ok, err := s.keys.GetSessionKey(ctx, ev.KeyID)
	if err != nil {
		return err
	}
	if !ok || record.Status == domain.KeyStatusExpired {
		s.log.InfoContext(ctx, "ignoring stale key delivery", "key_id", ev.KeyID)
		return domain.ErrStaleAck
	}
	if _, cached, err := s.cache.KeyByID(ev.KeyID); err != nil {
		return err
	} else if cached {
		// Duplicate delivery (at-least-once transport); just re-check activation.
		return s.tryActivate(ctx, ev.KeyID)
	}

	priv, err := s.cache.LoadIdentity()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnwrapFailure, err)
	}
	material, err := crypto.UnwrapKey(ev.WrappedKey, priv)
	if err != nil {
		return err
	}
	defer memzero.Zero(material)

	return s.acceptKey(ctx, record, ev.ChatID, material)
}

// PollTransfers claims and processes fallback transfers addressed to the
// user. Returns how many were accepted.
func (s *Service) PollTransfers(ctx context.Context, userID string) (int, error) {
	pending, err := s.transfers.PendingTransfers(ctx, userID, s.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	accepted := 0
	for _, t := range pending {
		// Claim first: transfers are one-shot.
		if err := s.transfers.MarkTransferReceived(ctx, t.ID); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue // consumed concurrently
			}
			return accepted, err
		}
		record, ok, err := s.keys.GetSessionKey(ctx, t.KeyID)
		if err != nil {
			return accepted, err
		}
		if !ok || record.Status == domain.KeyStatusExpired {
			s.log.InfoContext(ctx, "ignoring transfer for stale key", "key_id", t.KeyID)
			continue
		}
		priv, err := s.cache.LoadIdentity()
		if err != nil {
			return accepted, fmt.Errorf("%w: %v", domain.ErrUnwrapFailure, err)
		}
		material, err := crypto.UnwrapKey(t.WrappedKey, priv)
		if err != nil {
			return accepted, err
		}
		if err := s.acceptKey(ctx, record, t.ChatID, material); err != nil {
			memzero.Zero(material)
			return accepted, err
		}
		memzero.Zero(material)
		accepted++
	}
	return accepted, nil
}

// acceptKey is the receipt step shared by both delivery paths: cache the
// material, record the receiver ack, send the relay ack best-effort, and
// check activation.
func (s *Service) acceptKey(ctx context.Context, record domain.SessionKey, chatID string, material []byte) error {
	if err := s.cache.PutSessionKey(domain.CachedKey{
		KeyID:     record.ID,
		ChatID:    chatID,
		Material:  append([]byte(nil), material...),
		Status:    domain.KeyStatusReceived,
		CreatedAt: record.CreatedAt,
	}); err != nil {
		return err
	}

	acked := true
	_, err := s.keys.UpdateSessionKey(ctx, record.ID, domain.KeyStatusSent, domain.KeyMutation{
		Status:        domain.KeyStatusReceived,
		ReceiverAcked: &acked,
	})
	if errors.Is(err, domain.ErrConflict) {
		// The record may still be pending if our receipt raced the sender's
		// own dispatch bookkeeping, or already past received on a duplicate.
		k, ok, gerr := s.keys.GetSessionKey(ctx, record.ID)
		if gerr != nil || !ok {
			return gerr
		}
		if !k.ReceiverAcked {
			if _, uerr := s.keys.UpdateSessionKey(ctx, record.ID, k.Status, domain.KeyMutation{ReceiverAcked: &acked}); uerr != nil && !errors.Is(uerr, domain.ErrConflict) {
				return uerr
			}
		}
	} else if err != nil {
		return err
	}

	// Relay ack back to the initiator, best-effort: the authoritative flags
	// already live in the record store.
	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	ackEv := domain.Event{
		ID:          uuid.NewString(),
		Type:        domain.EventKeyAck,
		ChatID:      chatID,
		KeyID:       record.ID,
		SenderID:    record.RecipientID,
		RecipientID: record.InitiatorID,
	}
	if err := s.broadcast.Publish(ackCtx, domain.KeyTopic(record.InitiatorID), ackEv); err != nil {
		s.log.InfoContext(ctx, "key ack not delivered over relay", "key_id", record.ID, "error", err)
	}
	cancel()

	return s.tryActivate(ctx, record.ID)
}

// HandleAck processes the recipient's relay acknowledgment on the sender
// side. Acks for unknown or expired keys are ignored, never reapplied.
func (s *Service) HandleAck(ctx context.Context, ev domain.Event) error {
	if ev.Type != domain.EventKeyAck {
		return nil
	}
	k, ok, err := s.keys.GetSessionKey(ctx, ev.KeyID)
	if err != nil {
		return err
	}
	if !ok || k.Status == domain.KeyStatusExpired {
		s.log.InfoContext(ctx, "ignoring stale key ack", "key_id", ev.KeyID)
		return domain.ErrStaleAck
	}
	if !k.ReceiverAcked {
		acked := true
		if _, err := s.keys.UpdateSessionKey(ctx, ev.KeyID, k.Status, domain.KeyMutation{
			Status:        domain.KeyStatusReceived,
			ReceiverAcked: &acked,
		}); err != nil && !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return s.tryActivate(ctx, ev.KeyID)
}

// tryActivate promotes a key to active once both acknowledgment flags are
// set. It is idempotent and path-agnostic: whichever path completed the
// handshake, and however many duplicate acks arrive, there is exactly one
// received -> active transition because it is a conditional update.
func (s *Service) tryActivate(ctx context.Context, keyID string) error {
	k, ok, err := s.keys.GetSessionKey(ctx, keyID)
	if err != nil || !ok {
		return err
	}
	for k.SenderAcked && k.ReceiverAcked {
		var next domain.KeyStatus
		switch k.Status {
		case domain.KeyStatusSent:
			next = domain.KeyStatusReceived
		case domain.KeyStatusReceived:
			next = domain.KeyStatusActive
		}
		if next == "" {
			break // already active, expired, or not yet dispatched
		}
		updated, uerr := s.keys.UpdateSessionKey(ctx, keyID, k.Status, domain.KeyMutation{Status: next})
		if errors.Is(uerr, domain.ErrConflict) {
			// Someone else advanced it; re-read and reconsider.
			if k, ok, err = s.keys.GetSessionKey(ctx, keyID); err != nil || !ok {
				return err
			}
			continue
		}
		if uerr != nil {
			return uerr
		}
		k = updated
		if k.Status == domain.KeyStatusActive {
			s.log.InfoContext(ctx, "session key active", "chat_id", k.ChatID, "key_id", keyID)
		}
	}
	// Mirror the authoritative status into the cache copy if we hold one.
	if cached, has, err := s.cache.KeyByID(keyID); err == nil && has && cached.Status != k.Status {
		cached.Status = k.Status
		if err := s.cache.PutSessionKey(cached); err != nil {
			return err
		}
	}
	return nil
}

// expirePredecessors expires every older non-terminal key for the chat once
// the successor has reached at least sent. A key is never expired before a
// successor exists and has begun distribution.
func (s *Service) expirePredecessors(ctx context.Context, successor domain.SessionKey) error {
	current, ok, err := s.keys.GetSessionKey(ctx, successor.ID)
	if err != nil {
		return err
	}
	if !ok || current.Status == domain.KeyStatusPending {
		return nil // successor not dispatched; predecessors must stay usable
	}
	all, err := s.keys.SessionKeysByChat(ctx, successor.ChatID)
	if err != nil {
		return err
	}
	for _, k := range all {
		if k.ID == successor.ID || k.Status != domain.KeyStatusActive {
			continue
		}
		if _, err := s.keys.UpdateSessionKey(ctx, k.ID, domain.KeyStatusActive, domain.KeyMutation{
			Status: domain.KeyStatusExpired,
		}); err != nil && !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if err := s.cache.MarkKeyExpired(k.ID); err != nil {
			return err
		}
		s.log.InfoContext(ctx, "session key rotated out", "chat_id", k.ChatID, "key_id", k.ID, "successor", successor.ID)
	}
	return nil
}

// inFlightKey returns the chat's key still mid-handshake, if any.
func (s *Service) inFlightKey(ctx context.Context, chatID string) (domain.SessionKey, bool, error) {
	all, err := s.keys.SessionKeysByChat(ctx, chatID)
	if err != nil {
		return domain.SessionKey{}, false, err
	}
	for _, k := range all {
		switch k.Status {
		case domain.KeyStatusPending, domain.KeyStatusSent, domain.KeyStatusReceived:
			return k, true, nil
		}
	}
	return domain.SessionKey{}, false, nil
}

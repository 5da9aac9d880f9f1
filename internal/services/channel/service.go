package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"frostchat/internal/crypto"
	"frostchat/internal/domain"
	"frostchat/internal/services/exchange"
)

// Service is the single entry point for "the current usable key" and for
// encrypting/decrypting payloads under it.
type Service struct {
	cache    domain.KeyCache
	exchange *exchange.Service
	log      *slog.Logger
}

// New constructs the channel facade.
func New(cache domain.KeyCache, exch *exchange.Service, log *slog.Logger) *Service {
	return &Service{cache: cache, exchange: exch, log: log}
}

// ActiveKey returns the chat's usable key. Cache hits return immediately.
// On a miss, the initiator starts a handshake; the non-initiating party
// gets domain.ErrNoKey instead of blocking, and callers surface a
// "waiting for secure channel" state rather than sending anything.
func (s *Service) ActiveKey(ctx context.Context, chatID, userID string) (domain.CachedKey, error) {
	if k, ok, err := s.cache.ActiveKey(chatID); err != nil {
		return domain.CachedKey{}, err
	} else if ok {
		return k, nil
	}

	chat, ok, err := s.cache.Chat(chatID)
	if err != nil {
		return domain.CachedKey{}, err
	}
	if !ok || !chat.IsInitiator {
		return domain.CachedKey{}, fmt.Errorf("%w: chat %s", domain.ErrNoKey, chatID)
	}

	if _, err := s.exchange.InitializeChatKey(ctx, chat, userID); err != nil {
		if errors.Is(err, domain.ErrExchangeInFlight) {
			// A handshake we no longer hold material for is still running;
			// same caller experience as having no key yet.
			return domain.CachedKey{}, fmt.Errorf("%w: chat %s", domain.ErrNoKey, chatID)
		}
		return domain.CachedKey{}, err
	}

	k, ok, err := s.cache.ActiveKey(chatID)
	if err != nil {
		return domain.CachedKey{}, err
	}
	if !ok {
		return domain.CachedKey{}, fmt.Errorf("%w: chat %s", domain.ErrNoKey, chatID)
	}
	return k, nil
}

// EncryptMessage seals a message body with sender attribution and send time
// bound into the authenticated plaintext.
func (s *Service) EncryptMessage(ctx context.Context, chatID, userID, content string) (domain.Envelope, error) {
	k, err := s.ActiveKey(ctx, chatID, userID)
	if err != nil {
		return domain.Envelope{}, err
	}
	env, err := crypto.SealMessage(content, userID, time.Now().UTC(), k.Material, crypto.EnvelopeAAD(chatID, k.KeyID))
	if err != nil {
		return domain.Envelope{}, err
	}
	env.KeyID = k.KeyID
	return env, nil
}

// DecryptMessage opens a message envelope, resolving the key by the
// envelope's key ID so messages sealed before a rotation still decrypt.
func (s *Service) DecryptMessage(_ context.Context, chatID string, env domain.Envelope) (domain.Message, error) {
	k, ok, err := s.cache.KeyByID(env.KeyID)
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: envelope references key %s", domain.ErrKeyNotFound, env.KeyID)
	}
	return crypto.OpenMessage(env, k.Material, crypto.EnvelopeAAD(chatID, env.KeyID))
}

// EncryptPayload seals an opaque payload for the calling subsystem's
// signaling under the chat's current key.
func (s *Service) EncryptPayload(ctx context.Context, chatID, userID string, payload []byte) (domain.Envelope, error) {
	k, err := s.ActiveKey(ctx, chatID, userID)
	if err != nil {
		return domain.Envelope{}, err
	}
	env, err := crypto.Seal(payload, k.Material, crypto.EnvelopeAAD(chatID, k.KeyID))
	if err != nil {
		return domain.Envelope{}, err
	}
	env.KeyID = k.KeyID
	return env, nil
}

// DecryptPayload is the inverse of EncryptPayload.
func (s *Service) DecryptPayload(_ context.Context, chatID string, env domain.Envelope) ([]byte, error) {
	k, ok, err := s.cache.KeyByID(env.KeyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: envelope references key %s", domain.ErrKeyNotFound, env.KeyID)
	}
	return crypto.Open(env, k.Material, crypto.EnvelopeAAD(chatID, env.KeyID))
}

// BootstrapKey returns the chat's explicit first-contact key, deriving and
// caching it on first use. It is never substituted for a real key: a failed
// handshake surfaces as an error, not as a silent downgrade to this path.
func (s *Service) BootstrapKey(chatID string) ([]byte, error) {
	if k, ok, err := s.cache.BootstrapKey(chatID); err != nil {
		return nil, err
	} else if ok {
		return k, nil
	}
	k, err := crypto.BootstrapKey(chatID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.PutBootstrapKey(chatID, k); err != nil {
		return nil, err
	}
	return k, nil
}

package rotation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"frostchat/internal/domain"
	"frostchat/internal/services/exchange"
)

// DefaultCheckEvery is the scheduler's polling cadence.
const DefaultCheckEvery = time.Minute

// Scheduler walks the chat registry on a fixed cadence and asks the
// exchange protocol for a successor key wherever the active key has
// outlived the rotation age.
type Scheduler struct {
	exchange *exchange.Service
	keys     domain.SessionKeyStore
	cache    domain.KeyCache
	clock    clock.Clock
	log      *slog.Logger
	userID   string

	// CheckEvery and MaxAge default to one minute and the exchange
	// service's rotation age.
	CheckEvery time.Duration
	MaxAge     time.Duration
}

// New constructs a scheduler for the logged-in user. A nil clk means the
// wall clock.
func New(
	exch *exchange.Service,
	keys domain.SessionKeyStore,
	cache domain.KeyCache,
	clk clock.Clock,
	log *slog.Logger,
	userID string,
) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		exchange:   exch,
		keys:       keys,
		cache:      cache,
		clock:      clk,
		log:        log,
		userID:     userID,
		CheckEvery: DefaultCheckEvery,
		MaxAge:     exchange.DefaultRotationAge,
	}
}

// Run blocks, checking on every tick until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.CheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce evaluates every registered chat once and rotates where due.
func (s *Scheduler) CheckOnce(ctx context.Context) {
	chats, err := s.cache.Chats()
	if err != nil {
		s.log.ErrorContext(ctx, "rotation check: chat registry unavailable", "error", err)
		return
	}
	now := s.clock.Now().UTC()
	for _, chat := range chats {
		if !chat.IsInitiator {
			// The non-initiating party never spontaneously rotates.
			continue
		}
		active, ok, err := s.keys.ActiveSessionKey(ctx, chat.ID)
		if err != nil {
			s.log.ErrorContext(ctx, "rotation check failed", "chat_id", chat.ID, "error", err)
			continue
		}
		if !ok || now.Sub(active.LastRotationAt) < s.MaxAge {
			continue
		}

		s.log.InfoContext(ctx, "rotating aged session key",
			"chat_id", chat.ID, "key_id", active.ID, "age", now.Sub(active.LastRotationAt))
		if _, err := s.exchange.RotateChatKey(ctx, chat, s.userID); err != nil {
			// The predecessor stays active on failure; the next tick retries.
			if errors.Is(err, domain.ErrDeliveryTimeout) {
				s.log.WarnContext(ctx, "rotation delivery failed, keeping current key", "chat_id", chat.ID, "error", err)
			} else {
				s.log.ErrorContext(ctx, "rotation failed", "chat_id", chat.ID, "error", err)
			}
		}
	}
}

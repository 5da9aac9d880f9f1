package app

import (
	"context"
	"sync"
	"time"

	"frostchat/internal/domain"
	"frostchat/internal/services/rotation"
)

// transferPollEvery is the cadence of the fallback-path sweep.
const transferPollEvery = 30 * time.Second

// Session is the login-scoped runtime. It owns the relay subscription, the
// transfer polling loop and the rotation scheduler; Close ends all of them
// and locks the cache. There is never a process-wide session: one login,
// one Session, torn down on logout.
type Session struct {
	wire   *Wire
	userID string

	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// StartSession begins the background work for the logged-in user: incoming
// key deliveries and acks are handled as they arrive, durable transfers are
// swept up on a timer, and aged keys rotate.
func StartSession(ctx context.Context, w *Wire, userID string) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{wire: w, userID: userID, cancel: cancel}

	unsub, err := w.Relay.Subscribe(ctx, domain.KeyTopic(userID), func(ctx context.Context, ev domain.Event) {
		var err error
		switch ev.Type {
		case domain.EventKeyDelivery:
			err = w.Exchange.HandleDelivery(ctx, ev, userID)
		case domain.EventKeyAck:
			err = w.Exchange.HandleAck(ctx, ev)
		}
		if err != nil {
			w.Log.Warn("key event not applied", "event_id", ev.ID, "type", ev.Type, "error", err)
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.unsubscribe = unsub

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollTransfers(ctx)
	}()

	sched := rotation.New(w.Exchange, w.Keys, w.Cache, nil, w.Log, userID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sched.Run(ctx)
	}()

	return s, nil
}

// pollTransfers sweeps the durable fallback path, once immediately so keys
// parked while this device was offline arrive without waiting a full tick.
func (s *Session) pollTransfers(ctx context.Context) {
	sweep := func() {
		n, err := s.wire.Exchange.PollTransfers(ctx, s.userID)
		if err != nil {
			s.wire.Log.Warn("transfer poll failed", "error", err)
			return
		}
		if n > 0 {
			s.wire.Log.Info("accepted fallback key transfers", "count", n)
		}
	}
	sweep()

	ticker := time.NewTicker(transferPollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Close stops the background loops and unsubscribes. The Wire (and with it
// the unlocked cache) is closed separately by the caller that built it.
func (s *Session) Close() {
	s.unsubscribe()
	s.cancel()
	s.wg.Wait()
}

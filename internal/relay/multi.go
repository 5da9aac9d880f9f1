package relay

import (
	"context"
	"fmt"
	"sync"

	"frostchat/internal/domain"
)

// dedupWindow bounds how many event IDs the group remembers for duplicate
// suppression across its endpoints.
const dedupWindow = 1024

// Group treats several relay endpoints as one broadcast channel.
//
// Publish races all endpoints concurrently and returns as soon as the first
// one acks; the rest are cancelled. This is first-success-wins, not a
// quorum: the endpoints carry the same frame and exist only to ride out
// individual flakiness. Subscribe merges the endpoints' streams, dropping
// duplicate event IDs since delivery is at-least-once per endpoint.
type Group struct {
	endpoints []domain.Broadcast

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// NewGroup wraps the given endpoints.
func NewGroup(endpoints ...domain.Broadcast) *Group {
	return &Group{
		endpoints: endpoints,
		seen:      make(map[string]struct{}),
	}
}

// Publish sends ev to every endpoint and succeeds on the first ack.
// The caller bounds the race with its context deadline.
func (g *Group) Publish(ctx context.Context, topic string, ev domain.Event) error {
	if len(g.endpoints) == 0 {
		return domain.ErrRelayUnavailable
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(g.endpoints))
	for _, ep := range g.endpoints {
		go func(ep domain.Broadcast) {
			results <- ep.Publish(raceCtx, topic, ev)
		}(ep)
	}

	var lastErr error
	for range g.endpoints {
		select {
		case err := <-results:
			if err == nil {
				// First ack wins; cancel tears down the slower attempts so a
				// late ack cannot resurface after the caller moved on.
				return nil
			}
			lastErr = err
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrRelayUnavailable, lastErr)
}

// Subscribe attaches h to every endpoint, de-duplicated by event ID.
func (g *Group) Subscribe(ctx context.Context, topic string, h domain.EventHandler) (func(), error) {
	wrapped := func(ctx context.Context, ev domain.Event) {
		if g.duplicate(ev.ID) {
			return
		}
		h(ctx, ev)
	}

	cancels := make([]func(), 0, len(g.endpoints))
	cancelAll := func() {
		for _, c := range cancels {
			c()
		}
	}
	for _, ep := range g.endpoints {
		cancel, err := ep.Subscribe(ctx, topic, wrapped)
		if err != nil {
			cancelAll()
			return nil, err
		}
		cancels = append(cancels, cancel)
	}
	return cancelAll, nil
}

// duplicate records an event ID and reports whether it was already seen.
func (g *Group) duplicate(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[id]; ok {
		return true
	}
	g.seen[id] = struct{}{}
	g.order = append(g.order, id)
	if len(g.order) > dedupWindow {
		delete(g.seen, g.order[0])
		g.order = g.order[1:]
	}
	return false
}

var _ domain.Broadcast = (*Group)(nil)

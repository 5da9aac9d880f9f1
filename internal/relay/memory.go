package relay

import (
	"context"
	"sync"
	"time"

	"frostchat/internal/domain"
)

// Hub is an in-process broadcast bus for tests. Endpoints created from the
// same hub see each other's publishes; per-endpoint failure injection and
// delay make the delivery race controllable.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[int]domain.EventHandler
	nextSub int
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]domain.EventHandler)}
}

// Endpoint returns a new attachment to the hub.
func (h *Hub) Endpoint() *HubEndpoint { return &HubEndpoint{hub: h} }

func (h *Hub) subscribe(topic string, handler domain.EventHandler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]domain.EventHandler)
	}
	id := h.nextSub
	h.nextSub++
	h.subs[topic][id] = handler
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[topic], id)
	}
}

func (h *Hub) dispatch(ctx context.Context, topic string, ev domain.Event) {
	h.mu.Lock()
	handlers := make([]domain.EventHandler, 0, len(h.subs[topic]))
	for _, handler := range h.subs[topic] {
		handlers = append(handlers, handler)
	}
	h.mu.Unlock()
	// Synchronous dispatch keeps tests deterministic.
	for _, handler := range handlers {
		handler(ctx, ev)
	}
}

// HubEndpoint is one simulated relay endpoint.
type HubEndpoint struct {
	hub *Hub

	// PublishErr, when set, makes every publish fail with that error.
	PublishErr error
	// Delay is applied before a publish is acked or failed.
	Delay time.Duration
}

// Publish delivers the event through the hub, honoring injected failures.
func (e *HubEndpoint) Publish(ctx context.Context, topic string, ev domain.Event) error {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.PublishErr != nil {
		return e.PublishErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	e.hub.dispatch(ctx, topic, ev)
	return nil
}

// Subscribe attaches a handler to the hub topic.
func (e *HubEndpoint) Subscribe(ctx context.Context, topic string, h domain.EventHandler) (func(), error) {
	cancel := e.hub.subscribe(topic, h)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}

var _ domain.Broadcast = (*HubEndpoint)(nil)

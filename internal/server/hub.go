package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"frostchat/internal/domain"
)

// Wire frame kinds, shared with the client endpoint.
const (
	frameSubscribe = "subscribe"
	framePublish   = "publish"
	frameAck       = "ack"
	frameEvent     = "event"
)

type frame struct {
	ID    string          `json:"id"`
	Kind  string          `json:"kind"`
	Topic string          `json:"topic,omitempty"`
	Event json.RawMessage `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Hub fans published events out to every connection subscribed to the
// topic. Publishes are acked after fan-out, so a nil publish error on the
// client side means the hub accepted the frame, not that any peer was
// online; at-least-once semantics sit with the fallback path.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	topics map[string]map[*hubConn]struct{}
}

// NewHub returns an empty hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:    log,
		topics: make(map[string]map[*hubConn]struct{}),
	}
}

type hubConn struct {
	conn *websocket.Conn
	send chan frame

	mu     sync.Mutex
	closed bool
	topics map[string]struct{}
}

// ServeWS upgrades the request and runs the connection until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	c := &hubConn{
		conn:   conn,
		send:   make(chan frame, 64),
		topics: make(map[string]struct{}),
	}
	go c.writeLoop()
	h.readLoop(c)
}

func (h *Hub) readLoop(c *hubConn) {
	defer h.drop(c)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Kind {
		case frameSubscribe:
			if f.Topic == "" {
				continue
			}
			h.subscribe(c, f.Topic)
		case framePublish:
			h.publish(c, f)
		}
	}
}

func (h *Hub) subscribe(c *hubConn, topic string) {
	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*hubConn]struct{})
	}
	h.topics[topic][c] = struct{}{}
	h.mu.Unlock()

	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) publish(c *hubConn, f frame) {
	// Validate at the boundary; a malformed event is refused in the ack
	// rather than forwarded to subscribers.
	if _, err := domain.ParseEvent(f.Event); err != nil {
		c.enqueue(frame{ID: f.ID, Kind: frameAck, Error: err.Error()})
		return
	}

	h.mu.Lock()
	subs := make([]*hubConn, 0, len(h.topics[f.Topic]))
	for sc := range h.topics[f.Topic] {
		subs = append(subs, sc)
	}
	h.mu.Unlock()

	out := frame{ID: f.ID, Kind: frameEvent, Topic: f.Topic, Event: f.Event}
	for _, sc := range subs {
		sc.enqueue(out)
	}
	c.enqueue(frame{ID: f.ID, Kind: frameAck})
}

func (h *Hub) drop(c *hubConn) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	h.mu.Lock()
	for _, t := range topics {
		delete(h.topics[t], c)
		if len(h.topics[t]) == 0 {
			delete(h.topics, t)
		}
	}
	h.mu.Unlock()

	_ = c.conn.Close()
}

func (c *hubConn) enqueue(f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- f:
	default:
		// Slow consumer; drop rather than block the hub. A dropped frame
		// is indistinguishable from one lost in flight.
	}
}

func (c *hubConn) writeLoop() {
	for f := range c.send {
		if err := c.conn.WriteJSON(f); err != nil {
			return
		}
	}
}

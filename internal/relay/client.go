package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"frostchat/internal/domain"
)

// Frame kinds on the wire.
const (
	frameSubscribe = "subscribe"
	framePublish   = "publish"
	frameAck       = "ack"
	frameEvent     = "event"
)

// frame is one websocket message in either direction.
type frame struct {
	ID    string          `json:"id"`
	Kind  string          `json:"kind"`
	Topic string          `json:"topic,omitempty"`
	Event json.RawMessage `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Endpoint is one relay server connection. Publish blocks until the server
// acks the frame or the context ends; subscribed events are parsed at the
// boundary and handed to handlers.
type Endpoint struct {
	url  string
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex // websocket allows one concurrent writer

	mu      sync.Mutex
	acks    map[string]chan error
	subs    map[string]map[int]domain.EventHandler
	nextSub int

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to a relay endpoint and starts its read loop.
func Dial(ctx context.Context, url string, log *slog.Logger) (*Endpoint, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	e := &Endpoint{
		url:    url,
		conn:   conn,
		log:    log.With("relay", url),
		acks:   make(map[string]chan error),
		subs:   make(map[string]map[int]domain.EventHandler),
		closed: make(chan struct{}),
	}
	go e.readLoop()
	return e, nil
}

// Publish sends one event and waits for the endpoint's ack.
func (e *Endpoint) Publish(ctx context.Context, topic string, ev domain.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	ackc := make(chan error, 1)

	e.mu.Lock()
	e.acks[id] = ackc
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.acks, id)
		e.mu.Unlock()
	}()

	if err := e.write(frame{ID: id, Kind: framePublish, Topic: topic, Event: raw}); err != nil {
		return err
	}
	select {
	case err := <-ackc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.closed:
		return fmt.Errorf("relay %s: connection closed", e.url)
	}
}

// Subscribe registers a handler for a topic. The returned cancel removes the
// handler; the subscription frame itself is fire-and-forget, the server
// starts forwarding on receipt.
func (e *Endpoint) Subscribe(ctx context.Context, topic string, h domain.EventHandler) (func(), error) {
	e.mu.Lock()
	if e.subs[topic] == nil {
		e.subs[topic] = make(map[int]domain.EventHandler)
	}
	id := e.nextSub
	e.nextSub++
	e.subs[topic][id] = h
	first := len(e.subs[topic]) == 1
	e.mu.Unlock()

	if first {
		if err := e.write(frame{ID: uuid.NewString(), Kind: frameSubscribe, Topic: topic}); err != nil {
			e.mu.Lock()
			delete(e.subs[topic], id)
			e.mu.Unlock()
			return nil, err
		}
	}
	cancel := func() {
		e.mu.Lock()
		delete(e.subs[topic], id)
		e.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}

// Close tears the connection down; in-flight publishes fail.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return e.conn.Close()
}

func (e *Endpoint) write(f frame) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteJSON(f)
}

func (e *Endpoint) readLoop() {
	defer e.closeOnce.Do(func() { close(e.closed) })
	for {
		var f frame
		if err := e.conn.ReadJSON(&f); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				e.log.Debug("relay read loop ended", "error", err)
			}
			return
		}
		switch f.Kind {
		case frameAck:
			e.mu.Lock()
			ackc, ok := e.acks[f.ID]
			e.mu.Unlock()
			if ok {
				if f.Error != "" {
					ackc <- errors.New(f.Error)
				} else {
					ackc <- nil
				}
			}
		case frameEvent:
			ev, err := domain.ParseEvent(f.Event)
			if err != nil {
				// Malformed input never crashes the loop; it is dropped with a log line.
				e.log.Warn("dropping malformed relay event", "error", err)
				continue
			}
			e.dispatch(f.Topic, ev)
		}
	}
}

func (e *Endpoint) dispatch(topic string, ev domain.Event) {
	e.mu.Lock()
	handlers := make([]domain.EventHandler, 0, len(e.subs[topic]))
	for _, h := range e.subs[topic] {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()
	for _, h := range handlers {
		h(context.Background(), ev)
	}
}

var _ domain.Broadcast = (*Endpoint)(nil)

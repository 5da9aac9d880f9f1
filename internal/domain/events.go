package domain

import (
	"encoding/json"
	"fmt"
)

// EventType tags a relay payload. Payloads are parsed once at the boundary
// into this strict representation; anything else is a typed parse error.
type EventType string

const (
	// EventKeyDelivery carries a wrapped session key to the recipient.
	EventKeyDelivery EventType = "key_delivery"
	// EventKeyAck is the recipient's acknowledgment of a delivered key.
	EventKeyAck EventType = "key_ack"
)

// Event is a relay broadcast payload. Delivery is at-least-once with no
// ordering guarantee; ID lets subscribers drop duplicates.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	ChatID      string    `json:"chat_id"`
	KeyID       string    `json:"key_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	WrappedKey  []byte    `json:"wrapped_key,omitempty"`
}

// ParseEvent decodes and validates a raw relay payload.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch ev.Type {
	case EventKeyDelivery:
		if len(ev.WrappedKey) == 0 {
			return Event{}, fmt.Errorf("%w: key_delivery without wrapped_key", ErrMalformedEvent)
		}
	case EventKeyAck:
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, ev.Type)
	}
	if ev.ID == "" || ev.ChatID == "" || ev.KeyID == "" {
		return Event{}, fmt.Errorf("%w: missing id fields", ErrMalformedEvent)
	}
	return ev, nil
}

// KeyTopic is the broadcast topic carrying key-exchange events for a user.
func KeyTopic(userID string) string { return "keys." + userID }

// Tagged event type and wire framing.
//
// Every state change in the system, whether it arrives from a websocket
// client or from another instance over the broadcast bus, is expressed as a
// single Event value. The engine consumes Events through one dispatch
// function instead of scattering per-event callbacks, which keeps ordering
// and testing tractable.
//
// On the wire (both directions) events travel as JSON frames:
//
//	{"event": "chat message", "data": {...}}
//
// The event names are the client-facing contract and must not change.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags an Event with the operation it carries.
type EventType string

// Wire event names.
const (
	EventChatMessage EventType = "chat message"
	EventTyping      EventType = "typing"
	EventDelete      EventType = "delete message"
	EventDelivered   EventType = "message delivered"
	EventRead        EventType = "message read"
	EventClear       EventType = "clear chat"
)

// ErrUnknownEvent is returned when an inbound frame names an event the
// system does not understand. Such frames are dropped, not fatal.
var ErrUnknownEvent = errors.New("unknown event")

// Event is the sum type over all operations the engine accepts. Exactly one
// of the payload fields is meaningful, selected by Type:
//
//   - EventChatMessage: Message (uncommitted on ingest, committed on fanout)
//   - EventDelete, EventDelivered, EventRead: ID
//   - EventTyping: Payload, relayed verbatim and never persisted
//   - EventClear: no payload
type Event struct {
	Type    EventType       `json:"event"`
	Message *Message        `json:"message,omitempty"`
	ID      uint            `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// frame is the raw JSON envelope exchanged with clients.
type frame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// inboundMessage is the client payload for a new chat message. The client
// names its display identity "user"; committed messages go back out as
// "sender".
type inboundMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
	Time string `json:"time"`
}

// ParseFrame decodes a raw client frame into an Event.
func ParseFrame(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, fmt.Errorf("malformed frame: %w", err)
	}

	switch f.Event {
	case EventChatMessage:
		var in inboundMessage
		if err := json.Unmarshal(f.Data, &in); err != nil {
			return Event{}, fmt.Errorf("malformed chat message payload: %w", err)
		}
		return Event{
			Type:    EventChatMessage,
			Message: &Message{Sender: in.User, Text: in.Text, ClientTime: in.Time},
		}, nil

	case EventTyping:
		return Event{Type: EventTyping, Payload: f.Data}, nil

	case EventDelete, EventDelivered, EventRead:
		var id uint
		if err := json.Unmarshal(f.Data, &id); err != nil {
			return Event{}, fmt.Errorf("malformed id payload for %q: %w", f.Event, err)
		}
		return Event{Type: f.Event, ID: id}, nil

	case EventClear:
		return Event{Type: EventClear}, nil

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// Frame encodes the Event as the outbound client frame.
func (e Event) Frame() ([]byte, error) {
	out := struct {
		Event EventType `json:"event"`
		Data  any       `json:"data,omitempty"`
	}{Event: e.Type}

	switch e.Type {
	case EventChatMessage:
		out.Data = e.Message
	case EventTyping:
		out.Data = e.Payload
	case EventDelete, EventDelivered, EventRead:
		out.Data = e.ID
	case EventClear:
		// no payload; receivers drop their entire local view
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	return json.Marshal(out)
}

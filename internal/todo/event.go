package todo

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies a change event.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Source records which producer originated a change.
type Source string

const (
	// SourceChat marks changes produced by the conversational agent.
	SourceChat Source = "chat"
	// SourceTraditional marks changes produced by the form UI.
	SourceTraditional Source = "traditional"
)

// ChangeEvent describes one mutation to one todo. It is immutable once
// constructed: consumers receive it by value and the Todo payload is cloned
// on the way into the read model.
//
// For deleted events only TodoID is set; created and updated events carry
// the full Todo.
type ChangeEvent struct {
	Type      EventType `json:"type"`
	Todo      *Todo     `json:"todo,omitempty"`
	TodoID    string    `json:"todo_id,omitempty"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCreated builds a created event for t.
func NewCreated(t *Todo, source Source) ChangeEvent {
	return ChangeEvent{Type: EventCreated, Todo: t, Source: source, Timestamp: t.UpdatedAt}
}

// NewUpdated builds an updated event for t.
func NewUpdated(t *Todo, source Source) ChangeEvent {
	return ChangeEvent{Type: EventUpdated, Todo: t, Source: source, Timestamp: t.UpdatedAt}
}

// NewDeleted builds a deleted event for the given id.
func NewDeleted(id string, source Source) ChangeEvent {
	return ChangeEvent{Type: EventDeleted, TodoID: id, Source: source, Timestamp: time.Now().UTC()}
}

// TargetID returns the id of the todo this event concerns.
func (e ChangeEvent) TargetID() string {
	if e.Todo != nil {
		return e.Todo.ID
	}
	return e.TodoID
}

// Validate checks the event's internal consistency.
func (e ChangeEvent) Validate() error {
	switch e.Type {
	case EventCreated, EventUpdated:
		if e.Todo == nil {
			return fmt.Errorf("%s event requires a todo payload", e.Type)
		}
	case EventDeleted:
		if e.TargetID() == "" {
			return fmt.Errorf("deleted event requires a todo id")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	switch e.Source {
	case SourceChat, SourceTraditional:
	default:
		return fmt.Errorf("unknown event source %q", e.Source)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// EnvelopeType is the only message type the todo sync channel carries.
const EnvelopeType = "todo_change"

// Envelope is the wire frame exchanged between transport and hub.
// Origin carries the session id of the sender so a session can discard
// its own changes when the hub echoes them back.
type Envelope struct {
	Type   string      `json:"type"`
	Origin string      `json:"origin,omitempty"`
	Event  ChangeEvent `json:"event"`
}

// EncodeEnvelope serializes a change event into a wire frame.
func EncodeEnvelope(origin string, event ChangeEvent) ([]byte, error) {
	env := Envelope{Type: EnvelopeType, Origin: origin, Event: event}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame. A frame with the wrong type tag or an
// inconsistent event is rejected; the caller skips it and keeps reading.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Type != EnvelopeType {
		return nil, fmt.Errorf("unexpected message type %q", env.Type)
	}
	if err := env.Event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event in envelope: %w", err)
	}
	return &env, nil
}

package models

import "time"

// EventKind identifies the kind of a fan-out event.
type EventKind string

const (
	EventMessageCreated  EventKind = "message-created"
	EventTyping          EventKind = "typing"
	EventSeen            EventKind = "seen"
	EventPresenceChanged EventKind = "presence-changed"
)

// Transient reports whether events of this kind only reach live subscribers
// and are never persisted or replayed.
func (k EventKind) Transient() bool {
	return k == EventTyping
}

// Event is an immutable fan-out message. Build it with NewEvent and do not
// modify it after it has been handed to the fanout.
type Event struct {
	Kind      EventKind `json:"kind"`
	Topic     Topic     `json:"topic"`
	ActorID   int       `json:"actor_id,omitempty"`
	Payload   any       `json:"payload"`
	EmittedAt time.Time `json:"emitted_at"`
	Origin    string    `json:"origin,omitempty"`
}

// NewEvent stamps an event with the current UTC time.
func NewEvent(kind EventKind, topic Topic, actorID int, payload any) Event {
	return Event{
		Kind:      kind,
		Topic:     topic,
		ActorID:   actorID,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	}
}

// TypingPayload is carried by typing events.
type TypingPayload struct {
	ChatID   int  `json:"chat_id"`
	UserID   int  `json:"user_id"`
	IsTyping bool `json:"is_typing"`
}

// SeenPayload is carried by seen events.
type SeenPayload struct {
	ChatID    int       `json:"chat_id"`
	UserID    int       `json:"user_id"`
	MessageID int       `json:"message_id"`
	SeenAt    time.Time `json:"seen_at"`
}

// PresencePayload is carried by presence-changed events.
type PresencePayload struct {
	UserID   int       `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// MessagePayload is carried by message-created events.
type MessagePayload struct {
	Message Message `json:"message"`
}

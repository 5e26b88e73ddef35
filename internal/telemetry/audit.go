package telemetry

import (
	"context"
	"strconv"
	"time"

	"chat-realtime/internal/logging"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Text   string `json:"text"`
	Action string `json:"action,omitempty"`
	ChatID int    `json:"chat_id,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.emit(ctx, requestID, userID, AuditPayload{Level: level, Text: text})
}

// Action records a membership or access decision about a chat.
func (e *AuditEmitter) Action(ctx context.Context, level, action string, userID, chatID int, requestID string) {
	uid := strconv.Itoa(userID)
	e.emit(ctx, requestID, &uid, AuditPayload{
		Level:  level,
		Text:   action + " chat " + strconv.Itoa(chatID),
		Action: action,
		ChatID: chatID,
	})
}

func (e *AuditEmitter) emit(ctx context.Context, requestID string, userID *string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	ev := logging.Debug().Str("level", payload.Level).Str("request_id", requestID).Str("text", payload.Text)
	if userID != nil {
		ev = ev.Str("user_id", *userID)
	}
	ev.Msg("audit emit")

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		logging.Warn().Err(err).Msg("audit publish failed")
	}
}

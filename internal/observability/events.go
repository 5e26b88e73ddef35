package observability

import (
	"context"
	"time"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSLifecycle describes one websocket lifecycle transition.
type WSLifecycle struct {
	Event       string
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	ChatIDs     []int
	ConnectedAt time.Time
	Reason      string
	RequestID   string
	TraceID     string
}

// PublishWSEvent counts and publishes a websocket lifecycle envelope.
func PublishWSEvent(ctx context.Context, ev WSLifecycle) {
	IncWSEvent("chat", ev.Event)
	var durationMs int64
	if !ev.ConnectedAt.IsZero() && ev.Event != "ws_connect" {
		durationMs = time.Since(ev.ConnectedAt).Milliseconds()
	}
	_ = PublishEvent(ctx, "ws_events.chats", EventEnvelope{
		EventType: "ws_events",
		EventName: ev.Event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "chat",
				"chat_ids":    ev.ChatIDs,
				"event":       ev.Event,
				"conn_id":     ev.ConnID,
				"duration_ms": durationMs,
				"reason":      ev.Reason,
			},
			"identity": map[string]interface{}{
				"user_id":   ev.UserID,
				"device_id": ev.DeviceID,
				"ip":        ev.IP,
			},
		},
	}, BuildHeaders(ev.RequestID, ev.TraceID))
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

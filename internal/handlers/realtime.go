package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/session"
	"chat-realtime/internal/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RealtimeHandler serves the websocket endpoint.
type RealtimeHandler struct {
	sessions        SessionService
	framesPerSecond float64
}

// NewRealtimeHandler constructs a RealtimeHandler. framesPerSecond bounds
// inbound frames per connection; zero disables the limit.
func NewRealtimeHandler(sessions SessionService, framesPerSecond float64) *RealtimeHandler {
	return &RealtimeHandler{sessions: sessions, framesPerSecond: framesPerSecond}
}

// Connect admits the caller and upgrades the request. Nothing is upgraded
// until the token and every requested chat have been checked.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	chatIDs, err := parseChatIDs(c.Query("chat_ids"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat_ids"})
		return
	}

	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	span.SetAttributes(attribute.IntSlice("chat.ids", chatIDs))

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = requestIDFromContext(c)
	}
	ctx = session.WithRequestID(ctx, requestID)
	traceID := span.SpanContext().TraceID().String()

	info := ws.ConnInfo{
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	var client *ws.Client
	open := func(connID string) (ws.Sink, error) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return nil, err
		}
		client = ws.NewClient(connID, conn, h.framesPerSecond)
		return client, nil
	}

	handle, err := h.sessions.Attach(ctx, auth.TokenFromRequest(c.Request), chatIDs, info, open)
	if err != nil {
		span.RecordError(err)
		if client == nil && !c.Writer.Written() {
			respondError(c, err)
		}
		return
	}
	span.SetAttributes(attribute.Int("user.id", handle.UserID), attribute.String("ws.conn_id", handle.ConnID))

	info.ConnID = handle.ConnID
	info.UserID = handle.UserID
	client.Start()
	client.Reply(ws.OutboundFrame{Type: ws.FrameReady, RequestID: requestID, Data: gin.H{
		"conn_id":  handle.ConnID,
		"user_id":  handle.UserID,
		"chat_ids": handle.ChatIDs,
	}})

	lifecycle := observability.WSLifecycle{
		ConnID:      handle.ConnID,
		UserID:      handle.UserID,
		DeviceID:    info.DeviceID,
		IP:          info.IP,
		ChatIDs:     handle.ChatIDs,
		ConnectedAt: info.ConnectedAt,
		RequestID:   requestID,
		TraceID:     traceID,
	}
	lifecycle.Event = "ws_connect"
	observability.PublishWSEvent(ctx, lifecycle)

	// The request context ends when this handler returns.
	connCtx := context.WithoutCancel(ctx)
	go func() {
		err := client.ReadLoop(func(frame ws.InboundFrame) {
			h.dispatch(connCtx, handle, client, frame)
		})

		h.sessions.Detach(handle)
		client.Close("connection closed")

		if err != nil {
			lifecycle.Reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lifecycle.Event = "ws_error"
				observability.PublishWSEvent(connCtx, lifecycle)
			}
		}
		lifecycle.Event = "ws_disconnect"
		observability.PublishWSEvent(connCtx, lifecycle)
	}()
}

func (h *RealtimeHandler) dispatch(ctx context.Context, handle session.Handle, client *ws.Client, frame ws.InboundFrame) {
	if err := h.sessions.Activity(handle); err != nil && !errors.Is(err, ws.ErrUnknownConnection) {
		logging.Debug().Err(err).Str("conn_id", handle.ConnID).Msg("record activity")
	}
	if frame.RequestID != "" {
		ctx = session.WithRequestID(ctx, frame.RequestID)
	}

	var err error
	switch frame.Type {
	case ws.FramePing:
		client.Reply(ws.OutboundFrame{Type: ws.FramePong, RequestID: frame.RequestID})
		return
	case ws.FrameTyping:
		err = h.sessions.SendTyping(ctx, handle.UserID, frame.ChatID, frame.IsTyping)
	case ws.FrameSeen:
		err = h.sessions.MarkMessageSeen(ctx, handle.UserID, frame.ChatID, frame.MessageID)
	case ws.FrameRead:
		err = h.sessions.MarkRead(ctx, handle.UserID, frame.ChatID, frame.At)
	default:
		client.Reply(ws.OutboundFrame{Type: ws.FrameError, RequestID: frame.RequestID, Error: "unknown frame type"})
		return
	}

	if err != nil {
		message := err.Error()
		if statusFor(err) == http.StatusInternalServerError {
			logging.Error().Err(err).Str("conn_id", handle.ConnID).Str("frame", frame.Type).Msg("frame failed")
			message = "internal error"
		}
		client.Reply(ws.OutboundFrame{Type: ws.FrameError, RequestID: frame.RequestID, Error: message})
	}
}

func parseChatIDs(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || id <= 0 {
			return nil, errors.New("invalid chat id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

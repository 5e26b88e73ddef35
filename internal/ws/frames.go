package ws

import (
	"time"

	"github.com/goccy/go-json"
)

// Inbound frame types sent by clients.
const (
	FrameTyping = "typing"
	FrameSeen   = "seen"
	FrameRead   = "read"
	FramePing   = "ping"
)

// Outbound frame types that are not fan-out events.
const (
	FramePong  = "pong"
	FrameError = "error"
	FrameReady = "ready"
)

// InboundFrame is a client action received over the socket.
type InboundFrame struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	ChatID    int       `json:"chat_id,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	IsTyping  bool      `json:"is_typing,omitempty"`
	At        time.Time `json:"at,omitempty"`
}

// OutboundFrame is a direct reply to one client.
type OutboundFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// EncodeFrame marshals an outbound frame.
func EncodeFrame(frame OutboundFrame) ([]byte, error) {
	return json.Marshal(frame)
}

// DecodeFrame parses an inbound frame.
func DecodeFrame(payload []byte) (InboundFrame, error) {
	var frame InboundFrame
	err := json.Unmarshal(payload, &frame)
	return frame, err
}

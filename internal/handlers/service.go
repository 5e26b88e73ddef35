package handlers

import (
	"context"
	"time"

	"chat-realtime/internal/models"
	"chat-realtime/internal/session"
	"chat-realtime/internal/ws"
)

// SessionService is what the HTTP and websocket surfaces need from the session layer.
type SessionService interface {
	Attach(ctx context.Context, token string, chatIDs []int, info ws.ConnInfo, open session.OpenFunc) (session.Handle, error)
	Detach(h session.Handle) bool
	Activity(h session.Handle) error
	SendTyping(ctx context.Context, userID, chatID int, isTyping bool) error
	MarkMessageSeen(ctx context.Context, userID, chatID, messageID int) error
	MarkRead(ctx context.Context, userID, chatID int, at time.Time) error
	SendMessage(ctx context.Context, userID, chatID int, content string) (models.Message, error)
	MessagesSince(ctx context.Context, userID, chatID int, since time.Time) ([]models.Message, error)
	JoinChat(ctx context.Context, userID, chatID int) error
	LeaveChat(ctx context.Context, userID, chatID int) error
	UnreadCount(ctx context.Context, userID, chatID int) (int, error)
	Unread(ctx context.Context, userID int) (models.UnreadSnapshot, error)
	Presence(ctx context.Context, userID int) models.PresenceRecord
	DebugStatus() ws.Status
}

var _ SessionService = (*session.Service)(nil)

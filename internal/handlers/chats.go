package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/session"
)

// ChatHandler exposes the session operations over REST.
type ChatHandler struct {
	sessions SessionService
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(sessions SessionService) *ChatHandler {
	return &ChatHandler{sessions: sessions}
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

type readRequest struct {
	At time.Time `json:"at"`
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendTyping handles POST /chats/:chat_id/typing.
func (h *ChatHandler) SendTyping(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.sessions.SendTyping(requestContext(c), c.GetInt("userID"), chatID, req.IsTyping); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkMessageSeen handles POST /chats/:chat_id/messages/:message_id/seen.
func (h *ChatHandler) MarkMessageSeen(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	if err := h.sessions.MarkMessageSeen(requestContext(c), c.GetInt("userID"), chatID, messageID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkRead handles POST /chats/:chat_id/read. An empty body marks the chat read up to now.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	var req readRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	if err := h.sessions.MarkRead(requestContext(c), c.GetInt("userID"), chatID, req.At); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendMessage handles POST /chats/:chat_id/messages.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	msg, err := h.sessions.SendMessage(requestContext(c), c.GetInt("userID"), chatID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MessagesSince handles GET /chats/:chat_id/messages?since=RFC3339.
func (h *ChatHandler) MessagesSince(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		since = parsed
	}
	msgs, err := h.sessions.MessagesSince(requestContext(c), c.GetInt("userID"), chatID, since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// JoinChat handles POST /chats/:chat_id/join.
func (h *ChatHandler) JoinChat(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	if err := h.sessions.JoinChat(requestContext(c), c.GetInt("userID"), chatID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "active": true})
}

// LeaveChat handles POST /chats/:chat_id/leave.
func (h *ChatHandler) LeaveChat(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	if err := h.sessions.LeaveChat(requestContext(c), c.GetInt("userID"), chatID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "active": false})
}

// UnreadCount handles GET /chats/:chat_id/unread.
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	count, err := h.sessions.UnreadCount(requestContext(c), c.GetInt("userID"), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "unread": count})
}

// Unread handles GET /chats/unread.
func (h *ChatHandler) Unread(c *gin.Context) {
	snapshot, err := h.sessions.Unread(requestContext(c), c.GetInt("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Presence handles GET /users/:user_id/presence.
func (h *ChatHandler) Presence(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sessions.Presence(requestContext(c), userID))
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func requestContext(c *gin.Context) context.Context {
	return session.WithRequestID(c.Request.Context(), requestIDFromContext(c))
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/logging"
	"chat-realtime/internal/session"
	"chat-realtime/internal/unread"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrAccessDenied), errors.Is(err, unread.ErrNotAParticipant):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrCannotSeeOwnMessage):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Error().Err(err).Str("path", c.FullPath()).Str("request_id", requestIDFromContext(c)).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

package handlers

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires the websocket endpoint and the authenticated REST API.
func RegisterRoutes(router gin.IRouter, realtime *RealtimeHandler, chats *ChatHandler, auth gin.HandlerFunc) {
	router.GET("/ws/chats", realtime.Connect)

	api := router.Group("/")
	api.Use(auth)
	api.GET("/chats/unread", chats.Unread)
	api.GET("/chats/:chat_id/unread", chats.UnreadCount)
	api.GET("/chats/:chat_id/messages", chats.MessagesSince)
	api.POST("/chats/:chat_id/messages", chats.SendMessage)
	api.POST("/chats/:chat_id/messages/:message_id/seen", chats.MarkMessageSeen)
	api.POST("/chats/:chat_id/typing", chats.SendTyping)
	api.POST("/chats/:chat_id/read", chats.MarkRead)
	api.POST("/chats/:chat_id/join", chats.JoinChat)
	api.POST("/chats/:chat_id/leave", chats.LeaveChat)
	api.GET("/users/:user_id/presence", chats.Presence)
}

package models

import "time"

// Role of a participant inside a chat.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParticipantState is the per (chat, user) membership record.
// A zero LastRead means the user has never read the chat.
type ParticipantState struct {
	ChatID   int       `db:"chat_id" json:"chat_id"`
	UserID   int       `db:"user_id" json:"user_id"`
	Role     Role      `db:"role" json:"role"`
	Active   bool      `db:"active" json:"active"`
	LastRead time.Time `db:"last_read" json:"last_read"`
}

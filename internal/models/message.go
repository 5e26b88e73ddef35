package models

import "time"

// Message represents a durably stored chat message.
type Message struct {
	ID        int       `db:"id" json:"id"`
	ChatID    int       `db:"chat_id" json:"chat_id"`
	AuthorID  int       `db:"author_id" json:"author_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Durable reports whether the message carries store-assigned identity.
func (m Message) Durable() bool {
	return m.ID != 0 && !m.CreatedAt.IsZero()
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Append(ctx context.Context, chatID int, authorID int, content string) (models.Message, error)
	MessagesSince(ctx context.Context, chatID int, since time.Time) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	RecordSeen(ctx context.Context, messageID int, userID int, at time.Time) (bool, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a message and returns it with its id and timestamp.
func (r *MessageRepo) Append(ctx context.Context, chatID int, authorID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (chat_id, author_id, content) VALUES ($1, $2, $3) RETURNING id, chat_id, author_id, content, created_at`, chatID, authorID, content).
		Scan(&msg.ID, &msg.ChatID, &msg.AuthorID, &msg.Content, &msg.CreatedAt)
	return msg, err
}

// MessagesSince returns the messages of a chat created strictly after since, oldest first.
func (r *MessageRepo) MessagesSince(ctx context.Context, chatID int, since time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, chat_id, author_id, content, created_at
        FROM messages
        WHERE chat_id=$1 AND created_at > $2
        ORDER BY created_at ASC, id ASC`, chatID, since)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, chat_id, author_id, content, created_at FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// RecordSeen stores a read receipt. It reports false when the receipt already existed.
func (r *MessageRepo) RecordSeen(ctx context.Context, messageID int, userID int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO message_seen (message_id, user_id, seen_at) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, at)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

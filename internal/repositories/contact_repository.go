package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// ContactRepository exposes the social graph used for presence announcements.
type ContactRepository interface {
	ContactsOf(ctx context.Context, userID int) ([]int, error)
}

// ContactRepo is a sqlx implementation of ContactRepository.
type ContactRepo struct {
	db *sqlx.DB
}

// NewContactRepo constructs a ContactRepo.
func NewContactRepo(db *sqlx.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

// ContactsOf returns the users who share a contact edge or an active chat with userID.
func (r *ContactRepo) ContactsOf(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT contact_id FROM contacts WHERE user_id=$1
        UNION
        SELECT other.user_id FROM chat_participants me
        JOIN chat_participants other ON other.chat_id = me.chat_id AND other.user_id <> me.user_id
        WHERE me.user_id=$1 AND me.active = TRUE AND other.active = TRUE
        ORDER BY 1`, userID)
	return ids, err
}

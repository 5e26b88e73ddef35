package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrParticipantNotFound = errors.New("participant not found")

// ParticipantRepository abstracts chat membership persistence.
type ParticipantRepository interface {
	GetParticipant(ctx context.Context, chatID int, userID int) (models.ParticipantState, error)
	SetActive(ctx context.Context, chatID int, userID int, active bool) error
	SetWatermark(ctx context.Context, chatID int, userID int, at time.Time) error
	ListActive(ctx context.Context, userID int) ([]models.ParticipantState, error)
}

// ParticipantRepo is a sqlx implementation of ParticipantRepository.
type ParticipantRepo struct {
	db *sqlx.DB
}

// NewParticipantRepo constructs a ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

const participantColumns = `chat_id, user_id, role, active, COALESCE(last_read, to_timestamp(0)) AS last_read`

// GetParticipant fetches the membership record of a user in a chat.
func (r *ParticipantRepo) GetParticipant(ctx context.Context, chatID int, userID int) (models.ParticipantState, error) {
	var p models.ParticipantState
	err := r.db.GetContext(ctx, &p, `SELECT `+participantColumns+` FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ParticipantState{}, ErrParticipantNotFound
	}
	return p, err
}

// SetActive toggles the active flag of an existing membership.
func (r *ParticipantRepo) SetActive(ctx context.Context, chatID int, userID int, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET active=$3 WHERE chat_id=$1 AND user_id=$2`, chatID, userID, active)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// SetWatermark advances the last-read watermark; it never moves it backwards.
func (r *ParticipantRepo) SetWatermark(ctx context.Context, chatID int, userID int, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_participants
        SET last_read = GREATEST(COALESCE(last_read, to_timestamp(0)), $3)
        WHERE chat_id=$1 AND user_id=$2`, chatID, userID, at)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// ListActive returns every active membership of the user.
func (r *ParticipantRepo) ListActive(ctx context.Context, userID int) ([]models.ParticipantState, error) {
	var result []models.ParticipantState
	err := r.db.SelectContext(ctx, &result, `SELECT `+participantColumns+` FROM chat_participants
        WHERE user_id=$1 AND active = TRUE
        ORDER BY chat_id ASC`, userID)
	return result, err
}

// Package unread computes unread counts from per-chat last-read watermarks.
package unread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

var ErrNotAParticipant = errors.New("not a participant")

// ParticipantStore is the subset of the participation store the accountant needs.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, chatID int, userID int) (models.ParticipantState, error)
	SetWatermark(ctx context.Context, chatID int, userID int, at time.Time) error
	ListActive(ctx context.Context, userID int) ([]models.ParticipantState, error)
}

// MessageSource lists stored messages.
type MessageSource interface {
	MessagesSince(ctx context.Context, chatID int, since time.Time) ([]models.Message, error)
}

type watermarkKey struct {
	chatID int
	userID int
}

// Accountant answers unread queries. Counts are recomputed on every call;
// only watermarks advanced by this process are cached.
type Accountant struct {
	participants ParticipantStore
	messages     MessageSource

	mu         sync.Mutex
	watermarks map[watermarkKey]time.Time
}

// NewAccountant builds an Accountant.
func NewAccountant(participants ParticipantStore, messages MessageSource) *Accountant {
	return &Accountant{
		participants: participants,
		messages:     messages,
		watermarks:   make(map[watermarkKey]time.Time),
	}
}

// UnreadCount returns how many messages in chatID were written by others
// after userID's watermark.
func (a *Accountant) UnreadCount(ctx context.Context, userID, chatID int) (int, error) {
	p, err := a.participants.GetParticipant(ctx, chatID, userID)
	if err != nil {
		return 0, participantErr(err)
	}
	return a.count(ctx, p)
}

// AggregateUnread sums unread counts over the user's active chats.
func (a *Accountant) AggregateUnread(ctx context.Context, userID int) (int, error) {
	snap, err := a.Snapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return snap.Total, nil
}

// Snapshot returns per-chat unread counts and their total.
func (a *Accountant) Snapshot(ctx context.Context, userID int) (models.UnreadSnapshot, error) {
	snap := models.UnreadSnapshot{PerChat: make(map[int]int)}
	parts, err := a.participants.ListActive(ctx, userID)
	if err != nil {
		return snap, fmt.Errorf("list active chats: %w", err)
	}
	for _, p := range parts {
		n, err := a.count(ctx, p)
		if err != nil {
			return snap, err
		}
		snap.PerChat[p.ChatID] = n
		snap.Total += n
	}
	return snap, nil
}

// MarkSeen advances the watermark of userID in chatID to at. Watermarks
// never move backwards; an older at is a no-op.
func (a *Accountant) MarkSeen(ctx context.Context, userID, chatID int, at time.Time) error {
	key := watermarkKey{chatID: chatID, userID: userID}
	at = at.UTC()

	a.mu.Lock()
	prev, had := a.watermarks[key]
	if had && !at.After(prev) {
		a.mu.Unlock()
		return nil
	}
	a.watermarks[key] = at
	a.mu.Unlock()

	if err := a.participants.SetWatermark(ctx, chatID, userID, at); err != nil {
		a.mu.Lock()
		if cur, ok := a.watermarks[key]; ok && cur.Equal(at) {
			if had {
				a.watermarks[key] = prev
			} else {
				delete(a.watermarks, key)
			}
		}
		a.mu.Unlock()
		return participantErr(err)
	}
	return nil
}

// Watermark returns the effective last-read time of userID in chatID.
func (a *Accountant) Watermark(ctx context.Context, userID, chatID int) (time.Time, error) {
	p, err := a.participants.GetParticipant(ctx, chatID, userID)
	if err != nil {
		return time.Time{}, participantErr(err)
	}
	return a.effective(p), nil
}

func (a *Accountant) count(ctx context.Context, p models.ParticipantState) (int, error) {
	msgs, err := a.messages.MessagesSince(ctx, p.ChatID, a.effective(p))
	if err != nil {
		return 0, fmt.Errorf("load messages for chat %d: %w", p.ChatID, err)
	}
	n := 0
	for _, m := range msgs {
		if m.AuthorID != p.UserID {
			n++
		}
	}
	return n, nil
}

func (a *Accountant) effective(p models.ParticipantState) time.Time {
	mark := p.LastRead
	if mark.IsZero() {
		mark = time.Unix(0, 0).UTC()
	}
	a.mu.Lock()
	cached, ok := a.watermarks[watermarkKey{chatID: p.ChatID, userID: p.UserID}]
	a.mu.Unlock()
	if ok && cached.After(mark) {
		mark = cached
	}
	return mark
}

func participantErr(err error) error {
	if errors.Is(err, repositories.ErrParticipantNotFound) {
		return ErrNotAParticipant
	}
	return err
}

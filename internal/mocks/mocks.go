package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
	"chat-realtime/internal/session"
	"chat-realtime/internal/ws"
)

type ParticipantRepositoryMock struct {
	mock.Mock
}

func (m *ParticipantRepositoryMock) GetParticipant(ctx context.Context, chatID int, userID int) (models.ParticipantState, error) {
	args := m.Called(ctx, chatID, userID)
	var p models.ParticipantState
	if val := args.Get(0); val != nil {
		p = val.(models.ParticipantState)
	}
	return p, args.Error(1)
}

func (m *ParticipantRepositoryMock) SetActive(ctx context.Context, chatID int, userID int, active bool) error {
	args := m.Called(ctx, chatID, userID, active)
	return args.Error(0)
}

func (m *ParticipantRepositoryMock) SetWatermark(ctx context.Context, chatID int, userID int, at time.Time) error {
	args := m.Called(ctx, chatID, userID, at)
	return args.Error(0)
}

func (m *ParticipantRepositoryMock) ListActive(ctx context.Context, userID int) ([]models.ParticipantState, error) {
	args := m.Called(ctx, userID)
	var list []models.ParticipantState
	if val := args.Get(0); val != nil {
		list = val.([]models.ParticipantState)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, chatID int, authorID int, content string) (models.Message, error) {
	args := m.Called(ctx, chatID, authorID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MessagesSince(ctx context.Context, chatID int, since time.Time) ([]models.Message, error) {
	args := m.Called(ctx, chatID, since)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) RecordSeen(ctx context.Context, messageID int, userID int, at time.Time) (bool, error) {
	args := m.Called(ctx, messageID, userID, at)
	return args.Bool(0), args.Error(1)
}

type ContactRepositoryMock struct {
	mock.Mock
}

func (m *ContactRepositoryMock) ContactsOf(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type SessionServiceMock struct {
	mock.Mock
}

func (m *SessionServiceMock) Attach(ctx context.Context, token string, chatIDs []int, info ws.ConnInfo, open session.OpenFunc) (session.Handle, error) {
	args := m.Called(ctx, token, chatIDs, info, open)
	var h session.Handle
	if val := args.Get(0); val != nil {
		h = val.(session.Handle)
	}
	return h, args.Error(1)
}

func (m *SessionServiceMock) Detach(h session.Handle) bool {
	args := m.Called(h)
	return args.Bool(0)
}

func (m *SessionServiceMock) Activity(h session.Handle) error {
	args := m.Called(h)
	return args.Error(0)
}

func (m *SessionServiceMock) SendTyping(ctx context.Context, userID, chatID int, isTyping bool) error {
	args := m.Called(ctx, userID, chatID, isTyping)
	return args.Error(0)
}

func (m *SessionServiceMock) MarkMessageSeen(ctx context.Context, userID, chatID, messageID int) error {
	args := m.Called(ctx, userID, chatID, messageID)
	return args.Error(0)
}

func (m *SessionServiceMock) MarkRead(ctx context.Context, userID, chatID int, at time.Time) error {
	args := m.Called(ctx, userID, chatID, at)
	return args.Error(0)
}

func (m *SessionServiceMock) SendMessage(ctx context.Context, userID, chatID int, content string) (models.Message, error) {
	args := m.Called(ctx, userID, chatID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *SessionServiceMock) MessagesSince(ctx context.Context, userID, chatID int, since time.Time) ([]models.Message, error) {
	args := m.Called(ctx, userID, chatID, since)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *SessionServiceMock) JoinChat(ctx context.Context, userID, chatID int) error {
	args := m.Called(ctx, userID, chatID)
	return args.Error(0)
}

func (m *SessionServiceMock) LeaveChat(ctx context.Context, userID, chatID int) error {
	args := m.Called(ctx, userID, chatID)
	return args.Error(0)
}

func (m *SessionServiceMock) UnreadCount(ctx context.Context, userID, chatID int) (int, error) {
	args := m.Called(ctx, userID, chatID)
	return args.Int(0), args.Error(1)
}

func (m *SessionServiceMock) Unread(ctx context.Context, userID int) (models.UnreadSnapshot, error) {
	args := m.Called(ctx, userID)
	var snap models.UnreadSnapshot
	if val := args.Get(0); val != nil {
		snap = val.(models.UnreadSnapshot)
	}
	return snap, args.Error(1)
}

func (m *SessionServiceMock) Presence(ctx context.Context, userID int) models.PresenceRecord {
	args := m.Called(ctx, userID)
	var rec models.PresenceRecord
	if val := args.Get(0); val != nil {
		rec = val.(models.PresenceRecord)
	}
	return rec
}

func (m *SessionServiceMock) DebugStatus() ws.Status {
	args := m.Called()
	var status ws.Status
	if val := args.Get(0); val != nil {
		status = val.(ws.Status)
	}
	return status
}

// Package session orchestrates a user's realtime session: admission of
// websocket connections, typing and seen signals, membership changes and
// unread queries.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/fanout"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/unread"
	"chat-realtime/internal/ws"
)

var (
	ErrAuth                = errors.New("authentication failed")
	ErrAccessDenied        = errors.New("access denied")
	ErrNotFound            = errors.New("not found")
	ErrCannotSeeOwnMessage = errors.New("cannot mark own message as seen")
	ErrEmptyMessage        = errors.New("message content is empty")
)

// Publisher is the event fanout.
type Publisher interface {
	Publish(ctx context.Context, topic models.Topic, event models.Event) (fanout.Report, error)
	PublishExcept(ctx context.Context, topic models.Topic, event models.Event, excludeUserID int) (fanout.Report, error)
}

// Auditor records access and membership decisions.
type Auditor interface {
	Action(ctx context.Context, level, action string, userID, chatID int, requestID string)
}

// PresenceReader answers presence queries.
type PresenceReader interface {
	Record(userID int) models.PresenceRecord
	LastSeen(ctx context.Context, userID int) (time.Time, bool)
}

// Handle identifies an attached connection.
type Handle struct {
	ConnID  string
	UserID  int
	ChatIDs []int
}

// OpenFunc creates the transport for an admitted connection.
type OpenFunc func(connID string) (ws.Sink, error)

// Deps are the collaborators of a Service.
type Deps struct {
	Verifier     auth.Verifier
	Participants repositories.ParticipantRepository
	Messages     repositories.MessageRepository
	Registry     *ws.Registry
	Fanout       Publisher
	Unread       *unread.Accountant
	Presence     PresenceReader
	Audit        Auditor
	IdleAfter    time.Duration
}

// Service is the chat session orchestrator.
type Service struct {
	verifier     auth.Verifier
	participants repositories.ParticipantRepository
	messages     repositories.MessageRepository
	registry     *ws.Registry
	fanout       Publisher
	unread       *unread.Accountant
	presence     PresenceReader
	audit        Auditor
	idleAfter    time.Duration

	users *userLocks
	now   func() time.Time

	mu         sync.Mutex
	connecting map[string]int
}

// NewService builds a Service.
func NewService(d Deps) *Service {
	idleAfter := d.IdleAfter
	if idleAfter <= 0 {
		idleAfter = ws.DefaultIdleTimeout / 2
	}
	return &Service{
		verifier:     d.Verifier,
		participants: d.Participants,
		messages:     d.Messages,
		registry:     d.Registry,
		fanout:       d.Fanout,
		unread:       d.Unread,
		presence:     d.Presence,
		audit:        d.Audit,
		idleAfter:    idleAfter,
		users:        newUserLocks(),
		now:          time.Now,
		connecting:   make(map[string]int),
	}
}

// Authenticate resolves a bearer token to a user id.
func (s *Service) Authenticate(ctx context.Context, token string) (int, error) {
	userID, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return userID, nil
}

// Attach admits a new connection. The token is verified and every requested
// chat must have an active participation before open is called, so no
// transport is created for a rejected request. The connection is subscribed
// to its chats and to the user's own topic.
func (s *Service) Attach(ctx context.Context, token string, chatIDs []int, info ws.ConnInfo, open OpenFunc) (Handle, error) {
	userID, err := s.Authenticate(ctx, token)
	if err != nil {
		return Handle{}, err
	}
	chatIDs = uniqueIDs(chatIDs)

	unlock := s.users.lock(userID)
	defer unlock()

	for _, chatID := range chatIDs {
		if err := s.requireActive(ctx, userID, chatID); err != nil {
			return Handle{}, err
		}
	}

	connID := ws.NewConnID()
	s.mu.Lock()
	s.connecting[connID] = userID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.connecting, connID)
		s.mu.Unlock()
	}()

	sink, err := open(connID)
	if err != nil {
		return Handle{}, fmt.Errorf("open transport: %w", err)
	}

	topics := make([]models.Topic, 0, len(chatIDs)+1)
	for _, chatID := range chatIDs {
		topics = append(topics, models.ChatTopic(chatID))
	}
	topics = append(topics, models.UserTopic(userID))

	info.ConnID = connID
	info.UserID = userID
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = s.now()
	}
	if err := s.registry.Register(connID, userID, topics, sink, info); err != nil {
		sink.Close("register failed")
		return Handle{}, fmt.Errorf("register connection: %w", err)
	}

	logging.Debug().Str("conn_id", connID).Int("user_id", userID).Ints("chat_ids", chatIDs).Msg("connection attached")
	return Handle{ConnID: connID, UserID: userID, ChatIDs: chatIDs}, nil
}

// Detach unregisters a connection. Detaching twice is a no-op.
func (s *Service) Detach(h Handle) bool {
	return s.registry.Unregister(h.ConnID)
}

// Activity records that the connection sent something.
func (s *Service) Activity(h Handle) error {
	return s.registry.Touch(h.ConnID)
}

// SendTyping broadcasts a typing signal to the chat's other participants.
func (s *Service) SendTyping(ctx context.Context, userID, chatID int, isTyping bool) error {
	if err := s.requireActive(ctx, userID, chatID); err != nil {
		return err
	}
	topic := models.ChatTopic(chatID)
	ev := models.NewEvent(models.EventTyping, topic, userID, models.TypingPayload{ChatID: chatID, UserID: userID, IsTyping: isTyping})
	_, err := s.fanout.PublishExcept(ctx, topic, ev, userID)
	return err
}

// MarkMessageSeen records a read receipt, announces it to the chat and
// advances the reader's watermark to the message. Repeating it is a no-op.
func (s *Service) MarkMessageSeen(ctx context.Context, userID, chatID, messageID int) error {
	if err := s.requireActive(ctx, userID, chatID); err != nil {
		return err
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && msg.ChatID != chatID) {
		return fmt.Errorf("%w: message %d in chat %d", ErrNotFound, messageID, chatID)
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg.AuthorID == userID {
		return ErrCannotSeeOwnMessage
	}

	// Watermark before receipt, so a retry after a failed write still announces.
	if err := s.unread.MarkSeen(ctx, userID, chatID, msg.CreatedAt); err != nil {
		return err
	}
	seenAt := s.now().UTC()
	recorded, err := s.messages.RecordSeen(ctx, messageID, userID, seenAt)
	if err != nil {
		return fmt.Errorf("record seen: %w", err)
	}
	if !recorded {
		return nil
	}

	topic := models.ChatTopic(chatID)
	ev := models.NewEvent(models.EventSeen, topic, userID, models.SeenPayload{ChatID: chatID, UserID: userID, MessageID: messageID, SeenAt: seenAt})
	_, err = s.fanout.Publish(ctx, topic, ev)
	return err
}

// SendMessage stores a message and announces it to the chat.
func (s *Service) SendMessage(ctx context.Context, userID, chatID int, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if err := s.requireActive(ctx, userID, chatID); err != nil {
		return models.Message{}, err
	}

	msg, err := s.messages.Append(ctx, chatID, userID, content)
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	if err := s.unread.MarkSeen(ctx, userID, chatID, msg.CreatedAt); err != nil {
		logging.Warn().Err(err).Int("chat_id", chatID).Int("user_id", userID).Msg("advance sender watermark")
	}

	topic := models.ChatTopic(chatID)
	ev := models.NewEvent(models.EventMessageCreated, topic, userID, models.MessagePayload{Message: msg})
	if _, err := s.fanout.Publish(ctx, topic, ev); err != nil {
		return msg, fmt.Errorf("publish message: %w", err)
	}
	return msg, nil
}

// MarkRead advances the watermark of userID in chatID to at, or to now when at is zero.
func (s *Service) MarkRead(ctx context.Context, userID, chatID int, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	return s.unread.MarkSeen(ctx, userID, chatID, at)
}

// UnreadCount returns the unread count of one chat.
func (s *Service) UnreadCount(ctx context.Context, userID, chatID int) (int, error) {
	return s.unread.UnreadCount(ctx, userID, chatID)
}

// Unread returns per-chat unread counts across the user's active chats.
func (s *Service) Unread(ctx context.Context, userID int) (models.UnreadSnapshot, error) {
	return s.unread.Snapshot(ctx, userID)
}

// MessagesSince returns the chat's messages created after since, for catch-up on reconnect.
func (s *Service) MessagesSince(ctx context.Context, userID, chatID int, since time.Time) ([]models.Message, error) {
	if err := s.requireActive(ctx, userID, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.MessagesSince(ctx, chatID, since)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}

// JoinChat reactivates a membership and subscribes all of the user's live
// connections to the chat. Nothing changes in the registry if the store update fails.
func (s *Service) JoinChat(ctx context.Context, userID, chatID int) error {
	return s.setMembership(ctx, userID, chatID, true)
}

// LeaveChat deactivates a membership and unsubscribes the user's connections.
func (s *Service) LeaveChat(ctx context.Context, userID, chatID int) error {
	return s.setMembership(ctx, userID, chatID, false)
}

func (s *Service) setMembership(ctx context.Context, userID, chatID int, active bool) error {
	action := "leave"
	if active {
		action = "join"
	}

	unlock := s.users.lock(userID)
	defer unlock()

	if _, err := s.participants.GetParticipant(ctx, chatID, userID); err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			s.auditAction(ctx, "WARN", "access_denied", userID, chatID)
			return fmt.Errorf("%w: user %d is not a participant of chat %d", ErrAccessDenied, userID, chatID)
		}
		return fmt.Errorf("load participant: %w", err)
	}
	if err := s.participants.SetActive(ctx, chatID, userID, active); err != nil {
		return fmt.Errorf("%s chat: %w", action, err)
	}

	topic := models.ChatTopic(chatID)
	var affected int
	if active {
		affected = s.registry.SubscribeUser(userID, topic)
	} else {
		affected = s.registry.UnsubscribeUser(userID, topic)
	}
	s.auditAction(ctx, "INFO", action, userID, chatID)
	logging.Debug().Str("action", action).Int("user_id", userID).Int("chat_id", chatID).Int("connections", affected).Msg("membership changed")
	return nil
}

// Presence returns the presence record of userID with its last-seen time.
func (s *Service) Presence(ctx context.Context, userID int) models.PresenceRecord {
	if s.presence == nil {
		return models.PresenceRecord{UserID: userID}
	}
	rec := s.presence.Record(userID)
	if !rec.Online && rec.LastSeen.IsZero() {
		if at, ok := s.presence.LastSeen(ctx, userID); ok {
			rec.LastSeen = at
		}
	}
	rec.ConnectionIDs = nil
	return rec
}

// DebugStatus returns the registry summary.
func (s *Service) DebugStatus() ws.Status {
	return s.registry.Status()
}

func (s *Service) requireActive(ctx context.Context, userID, chatID int) error {
	p, err := s.participants.GetParticipant(ctx, chatID, userID)
	if err != nil && !errors.Is(err, repositories.ErrParticipantNotFound) {
		return fmt.Errorf("load participant: %w", err)
	}
	if err != nil || !p.Active {
		s.auditAction(ctx, "WARN", "access_denied", userID, chatID)
		return fmt.Errorf("%w: user %d in chat %d", ErrAccessDenied, userID, chatID)
	}
	return nil
}

func (s *Service) auditAction(ctx context.Context, level, action string, userID, chatID int) {
	if s.audit == nil {
		return
	}
	s.audit.Action(ctx, level, action, userID, chatID, requestIDFrom(ctx))
}

func uniqueIDs(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-realtime/internal/models"
)

// MemoryStore keeps participants, messages and contacts in process memory.
// It backs local development and tests.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[[2]int]models.ParticipantState
	messages     []models.Message
	seen         map[[2]int]time.Time
	contacts     map[int]map[int]struct{}
	nextID       int
	now          func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[[2]int]models.ParticipantState),
		seen:         make(map[[2]int]time.Time),
		contacts:     make(map[int]map[int]struct{}),
		now:          time.Now,
	}
}

// AddParticipant inserts or replaces a membership.
func (s *MemoryStore) AddParticipant(p models.ParticipantState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Role == "" {
		p.Role = models.RoleMember
	}
	s.participants[[2]int{p.ChatID, p.UserID}] = p
}

// AddContact records a symmetric contact edge.
func (s *MemoryStore) AddContact(userID, contactID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range [][2]int{{userID, contactID}, {contactID, userID}} {
		if _, ok := s.contacts[pair[0]]; !ok {
			s.contacts[pair[0]] = make(map[int]struct{})
		}
		s.contacts[pair[0]][pair[1]] = struct{}{}
	}
}

func (s *MemoryStore) GetParticipant(_ context.Context, chatID int, userID int) (models.ParticipantState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[[2]int{chatID, userID}]
	if !ok {
		return models.ParticipantState{}, ErrParticipantNotFound
	}
	return p, nil
}

func (s *MemoryStore) SetActive(_ context.Context, chatID int, userID int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int{chatID, userID}
	p, ok := s.participants[key]
	if !ok {
		return ErrParticipantNotFound
	}
	p.Active = active
	s.participants[key] = p
	return nil
}

func (s *MemoryStore) SetWatermark(_ context.Context, chatID int, userID int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int{chatID, userID}
	p, ok := s.participants[key]
	if !ok {
		return ErrParticipantNotFound
	}
	if at.After(p.LastRead) {
		p.LastRead = at
		s.participants[key] = p
	}
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context, userID int) ([]models.ParticipantState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.ParticipantState
	for _, p := range s.participants {
		if p.UserID == userID && p.Active {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChatID < result[j].ChatID })
	return result, nil
}

func (s *MemoryStore) Append(_ context.Context, chatID int, authorID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	created := s.now().UTC()
	if n := len(s.messages); n > 0 && !created.After(s.messages[n-1].CreatedAt) {
		created = s.messages[n-1].CreatedAt.Add(time.Microsecond)
	}
	msg := models.Message{ID: s.nextID, ChatID: chatID, AuthorID: authorID, Content: content, CreatedAt: created}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MemoryStore) MessagesSince(_ context.Context, chatID int, since time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []models.Message
	for _, m := range s.messages {
		if m.ChatID == chatID && m.CreatedAt.After(since) {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID int) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return models.Message{}, ErrMessageNotFound
}

func (s *MemoryStore) RecordSeen(_ context.Context, messageID int, userID int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int{messageID, userID}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = at
	return true, nil
}

func (s *MemoryStore) ContactsOf(_ context.Context, userID int) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[int]struct{})
	for id := range s.contacts[userID] {
		set[id] = struct{}{}
	}
	for key, p := range s.participants {
		if key[1] != userID || !p.Active {
			continue
		}
		for other, q := range s.participants {
			if other[0] == key[0] && other[1] != userID && q.Active {
				set[other[1]] = struct{}{}
			}
		}
	}
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

var (
	_ ParticipantRepository = (*MemoryStore)(nil)
	_ MessageRepository     = (*MemoryStore)(nil)
	_ ContactRepository     = (*MemoryStore)(nil)
	_ ParticipantRepository = (*ParticipantRepo)(nil)
	_ MessageRepository     = (*MessageRepo)(nil)
	_ ContactRepository     = (*ContactRepo)(nil)
)

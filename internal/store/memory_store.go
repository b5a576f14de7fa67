package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/memarena/internal/domain"
)

// MemoryStore is an in-process Store. Data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	order    []string // session ids in creation order
	messages []*domain.Message
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(_ context.Context, s domain.Session) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if _, exists := m.sessions[s.ID]; exists {
		return nil, ErrInvalid
	}
	now := m.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	s.Metadata = maps.Clone(s.Metadata)
	m.sessions[s.ID] = &s
	m.order = append(m.order, s.ID)
	out := s
	return &out, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string) ([]domain.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []domain.SessionSummary{}
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.sessions[m.order[i]]
		if s.UserID != userID {
			continue
		}
		out = append(out, domain.SessionSummary{ID: s.ID, Title: s.Title, UpdatedAt: s.UpdatedAt})
	}
	return out, nil
}

func (m *MemoryStore) UpdateSessionTitle(_ context.Context, id, userID, title string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || (userID != "" && s.UserID != userID) {
		return nil, ErrNotFound
	}
	s.Title = title
	s.UpdatedAt = m.now().UTC()
	out := *s
	return &out, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || (userID != "" && s.UserID != userID) {
		return ErrNotFound
	}
	delete(m.sessions, id)
	m.order = slices.DeleteFunc(m.order, func(sid string) bool { return sid == id })
	m.messages = slices.DeleteFunc(m.messages, func(msg *domain.Message) bool { return msg.SessionID == id })
	return nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	out, err := m.CreateMessages(ctx, []domain.Message{msg})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (m *MemoryStore) CreateMessages(_ context.Context, ms []domain.Message) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	staged := make([]*domain.Message, 0, len(ms))
	for i, msg := range ms {
		if err := prepareMessage(&msg, now.Add(time.Duration(i))); err != nil {
			return nil, err
		}
		if _, ok := m.sessions[msg.SessionID]; !ok {
			return nil, ErrInvalid
		}
		if m.findLocked(msg.ID, staged) != nil {
			return nil, ErrInvalid
		}
		if msg.Role == domain.RoleAssistant {
			target := m.findLocked(msg.ReplyToMessageID, staged)
			var siblings []domain.Message
			for _, existing := range append(slices.Clone(m.messages), staged...) {
				if existing.ReplyToMessageID == msg.ReplyToMessageID {
					siblings = append(siblings, *existing)
				}
			}
			if err := checkReply(msg, target, siblings); err != nil {
				return nil, err
			}
		}
		msg.Attachments = slices.Clone(msg.Attachments)
		msg.Metadata = maps.Clone(msg.Metadata)
		staged = append(staged, &msg)
	}

	m.messages = append(m.messages, staged...)
	out := make([]domain.Message, len(staged))
	for i, msg := range staged {
		out[i] = *msg
	}
	return out, nil
}

// findLocked looks a message up among stored and staged messages.
func (m *MemoryStore) findLocked(id string, staged []*domain.Message) *domain.Message {
	for _, msg := range m.messages {
		if msg.ID == id {
			return msg
		}
	}
	for _, msg := range staged {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg := m.findLocked(id, nil)
	if msg == nil {
		return nil, ErrNotFound
	}
	out := copyMessage(msg)
	return &out, nil
}

func (m *MemoryStore) MessagesBySession(_ context.Context, sessionID string) ([]domain.Message, error) {
	return m.filter(func(msg *domain.Message) bool { return msg.SessionID == sessionID }), nil
}

func (m *MemoryStore) MessagesByReplyTo(_ context.Context, replyToID string) ([]domain.Message, error) {
	return m.filter(func(msg *domain.Message) bool { return msg.ReplyToMessageID == replyToID }), nil
}

// filter returns matching messages ordered by creation time, then insertion.
func (m *MemoryStore) filter(keep func(*domain.Message) bool) []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Message{}
	for _, msg := range m.messages {
		if keep(msg) {
			out = append(out, copyMessage(msg))
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (m *MemoryStore) UpdateMessageContent(ctx context.Context, id, content string) error {
	return m.UpdateMessage(ctx, id, MessageUpdate{Content: &content})
}

func (m *MemoryStore) UpdateMessage(_ context.Context, id string, u MessageUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.findLocked(id, nil)
	if msg == nil {
		return ErrNotFound
	}
	if u.Content != nil {
		msg.Content = *u.Content
	}
	if u.Metadata != nil {
		msg.Metadata = maps.Clone(u.Metadata)
	}
	return nil
}

func (m *MemoryStore) AppendMessageContent(_ context.Context, id, delta string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.findLocked(id, nil)
	if msg == nil {
		return ErrNotFound
	}
	msg.Content += delta
	return nil
}

func copyMessage(msg *domain.Message) domain.Message {
	out := *msg
	out.Attachments = slices.Clone(msg.Attachments)
	out.Metadata = maps.Clone(msg.Metadata)
	return out
}

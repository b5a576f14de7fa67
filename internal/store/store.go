package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/memarena/internal/domain"
)

var (
	// ErrNotFound is returned when a session or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned when a write would break a message invariant.
	ErrInvalid = errors.New("invalid message")
)

// MessageUpdate carries the fields of a message that may change after creation.
// Nil fields are left untouched.
type MessageUpdate struct {
	Content  *string
	Metadata map[string]any
}

// Store is the message store used by the chat service and gateway.
type Store interface {
	CreateSession(ctx context.Context, s domain.Session) (*domain.Session, error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// ListSessions returns the user's sessions, most recently created first.
	ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error)
	// UpdateSessionTitle sets the title. An empty userID matches any owner.
	UpdateSessionTitle(ctx context.Context, id, userID, title string) (*domain.Session, error)
	// DeleteSession removes the session and its messages.
	DeleteSession(ctx context.Context, id, userID string) error

	CreateMessage(ctx context.Context, m domain.Message) (*domain.Message, error)
	CreateMessages(ctx context.Context, ms []domain.Message) ([]domain.Message, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// MessagesBySession returns messages in creation order.
	MessagesBySession(ctx context.Context, sessionID string) ([]domain.Message, error)
	MessagesByReplyTo(ctx context.Context, replyToID string) ([]domain.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string) error
	UpdateMessage(ctx context.Context, id string, u MessageUpdate) error
	AppendMessageContent(ctx context.Context, id, delta string) error

	Close() error
}

// timeLayout is fixed width so lexical order in SQL equals time order.
const timeLayout = "2006-01-02 15:04:05.000000000"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// prepareMessage fills defaults and checks the fields that do not need a
// lookup.
func prepareMessage(m *domain.Message, now time.Time) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.SessionID == "" {
		return fmt.Errorf("%w: session id required", ErrInvalid)
	}
	switch m.Role {
	case domain.RoleUser:
		if m.ReplyToMessageID != "" {
			return fmt.Errorf("%w: user messages do not reply", ErrInvalid)
		}
	case domain.RoleAssistant:
		if m.ReplyToMessageID == "" {
			return fmt.Errorf("%w: assistant message must reply to a user message", ErrInvalid)
		}
		if !m.AgentID.Valid() {
			return fmt.Errorf("%w: unknown agent %q", ErrInvalid, m.AgentID)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, m.Role)
	}
	return nil
}

// checkReply verifies an assistant message against the user message it
// replies to and any sibling replies.
func checkReply(m domain.Message, target *domain.Message, siblings []domain.Message) error {
	if m.Role != domain.RoleAssistant {
		return nil
	}
	if target == nil || target.Role != domain.RoleUser || target.SessionID != m.SessionID {
		return fmt.Errorf("%w: reply target %s is not a user message in session %s", ErrInvalid, m.ReplyToMessageID, m.SessionID)
	}
	for _, s := range siblings {
		if s.AgentID == m.AgentID && s.ID != m.ID {
			return fmt.Errorf("%w: %s already replied to %s", ErrInvalid, m.AgentID, m.ReplyToMessageID)
		}
	}
	return nil
}

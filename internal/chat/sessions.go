package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/hooks"
	"github.com/soyeahso/memarena/internal/store"
)

// ErrSessionNotFound is returned for sessions that do not exist or belong to
// another user.
var ErrSessionNotFound = &ValidationError{Status: 404, Message: "Session not found"}

// MessageDTO is the history view of a stored message. Nullable columns are
// rendered as JSON null.
type MessageDTO struct {
	ID               string              `json:"id"`
	Role             string              `json:"role"`
	Content          string              `json:"content"`
	AgentID          *string             `json:"agentId"`
	ProviderID       *string             `json:"providerId"`
	Attachments      []domain.Attachment `json:"attachments"`
	Metadata         map[string]any      `json:"metadata"`
	ReplyToMessageID *string             `json:"replyToMessageId"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// DTOFrom converts a stored message.
func DTOFrom(m domain.Message) MessageDTO {
	dto := MessageDTO{
		ID:               m.ID,
		Role:             m.Role,
		Content:          m.Content,
		AgentID:          nullable(string(m.AgentID)),
		ProviderID:       nullable(m.ProviderID),
		Attachments:      m.Attachments,
		Metadata:         m.Metadata,
		ReplyToMessageID: nullable(m.ReplyToMessageID),
		CreatedAt:        m.CreatedAt,
	}
	if len(dto.Attachments) == 0 {
		dto.Attachments = nil
	}
	if len(dto.Metadata) == 0 {
		dto.Metadata = nil
	}
	return dto
}

// Message converts the DTO back into a stored message shape.
func (d MessageDTO) Message(sessionID string) domain.Message {
	m := domain.Message{
		ID:          d.ID,
		SessionID:   sessionID,
		Role:        d.Role,
		Content:     d.Content,
		Attachments: d.Attachments,
		Metadata:    d.Metadata,
		CreatedAt:   d.CreatedAt,
	}
	if d.AgentID != nil {
		m.AgentID = domain.AgentID(*d.AgentID)
	}
	if d.ProviderID != nil {
		m.ProviderID = *d.ProviderID
	}
	if d.ReplyToMessageID != nil {
		m.ReplyToMessageID = *d.ReplyToMessageID
	}
	return m
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateSession creates a session owned by userID. An empty id gets a fresh
// one.
func (s *Service) CreateSession(ctx context.Context, userID, id string) (*domain.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	sess, err := s.store.CreateSession(ctx, domain.Session{ID: id, UserID: userID})
	if err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return nil, &ValidationError{Status: 409, Message: "Session already exists"}
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.hooks.EmitAsync(ctx, hooks.Payload{Event: hooks.EventSessionCreated, SessionID: sess.ID})
	return sess, nil
}

// ListSessions returns the user's sessions, most recent first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	return s.store.ListSessions(ctx, userID)
}

// RenameSession sets a session title.
func (s *Service) RenameSession(ctx context.Context, userID, id, title string) (*domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, badRequest("title required")
	}
	sess, err := s.store.UpdateSessionTitle(ctx, id, userID, domain.TitleFrom(title))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// DeleteSession removes a session and its messages.
func (s *Service) DeleteSession(ctx context.Context, userID, id string) error {
	err := s.store.DeleteSession(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	s.hooks.EmitAsync(ctx, hooks.Payload{Event: hooks.EventSessionDeleted, SessionID: id})
	return nil
}

// History returns the session's messages in creation order.
func (s *Service) History(ctx context.Context, userID, sessionID string) ([]MessageDTO, error) {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	msgs, err := s.store.MessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	out := make([]MessageDTO, len(msgs))
	for i, m := range msgs {
		out[i] = DTOFrom(m)
	}
	return out, nil
}

// SaveUserMessage stores the user's turn before the agent streams start. The
// session is created on first use.
func (s *Service) SaveUserMessage(ctx context.Context, userID, sessionID, content string, atts []domain.Attachment) (*domain.Message, error) {
	if sessionID == "" {
		return nil, badRequest("id (sessionId) required")
	}
	if _, err := s.ensureSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	msg, err := s.store.CreateMessage(ctx, domain.Message{
		SessionID:   sessionID,
		Role:        domain.RoleUser,
		Content:     content,
		Attachments: atts,
	})
	if err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	s.hooks.EmitAsync(ctx, hooks.Payload{
		Event:     hooks.EventMessageSaved,
		SessionID: sessionID,
		Data:      map[string]any{"messageId": msg.ID, "attachments": len(atts)},
	})
	return msg, nil
}

func (s *Service) ownedSession(ctx context.Context, userID, id string) (*domain.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != "" && sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ensureSession returns the user's session, creating it when it does not
// exist yet.
func (s *Service) ensureSession(ctx context.Context, userID, id string) (*domain.Session, error) {
	sess, err := s.ownedSession(ctx, userID, id)
	if !errors.Is(err, ErrSessionNotFound) {
		return sess, err
	}
	if _, getErr := s.store.GetSession(ctx, id); getErr == nil {
		return nil, err
	}
	sess, err = s.store.CreateSession(ctx, domain.Session{ID: id, UserID: userID})
	if errors.Is(err, store.ErrInvalid) {
		// Created concurrently by another stream of the same round.
		return s.ownedSession(ctx, userID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.hooks.EmitAsync(ctx, hooks.Payload{Event: hooks.EventSessionCreated, SessionID: sess.ID})
	return sess, nil
}

// attachmentsFrom turns a UI message's file refs into stored attachments.
func attachmentsFrom(m domain.UIMessage) []domain.Attachment {
	var out []domain.Attachment
	for _, p := range m.Parts {
		if p.Type != domain.PartFileRef || p.Data == nil {
			continue
		}
		out = append(out, domain.Attachment{
			DriveItemID: p.Data.DriveItemID,
			ObjectKey:   p.Data.ObjectKey,
			Filename:    p.Data.Filename,
			Size:        p.Data.Size,
			MimeType:    p.Data.MimeType,
		})
	}
	return out
}

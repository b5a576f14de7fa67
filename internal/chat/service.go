package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/memarena/internal/agent"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/hooks"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/store"
	"github.com/soyeahso/memarena/internal/stream"
)

// Dispatcher streams one agent's reply. *agent.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, p agent.Params, w stream.Writer) error
}

// Service owns the chat lifecycle around the dispatcher.
type Service struct {
	store      store.Store
	dispatcher Dispatcher
	hooks      *hooks.Manager
	flush      FlusherConfig
	log        *logging.Logger
}

// NewService creates a chat service. hooks may be nil.
func NewService(st store.Store, d Dispatcher, hk *hooks.Manager, flush FlusherConfig, log *logging.Logger) *Service {
	return &Service{
		store:      st,
		dispatcher: d,
		hooks:      hk,
		flush:      flush,
		log:        log.Sub("chat"),
	}
}

// Turn is a chat request that passed validation and has its assistant row.
type Turn struct {
	Request            *Request
	UserID             string
	UserMessageID      string
	AssistantMessageID string
	UserContent        string
}

// Prepare checks the session, makes sure the user message is stored and
// creates (or reuses) this agent's assistant row. Errors that should become a
// 4xx response are *ValidationError.
func (s *Service) Prepare(ctx context.Context, userID string, req *Request) (*Turn, error) {
	if _, err := s.ensureSession(ctx, userID, req.ID); err != nil {
		return nil, err
	}

	last := req.Last()
	turn := &Turn{
		Request:       req,
		UserID:        userID,
		UserMessageID: last.ID,
		UserContent:   last.Text(),
	}
	if turn.UserMessageID == "" {
		turn.UserMessageID = uuid.NewString()
	}
	if err := s.ensureUserMessage(ctx, req.ID, turn.UserMessageID, last); err != nil {
		return nil, err
	}

	id, err := s.assistantRow(ctx, req, turn.UserMessageID)
	if err != nil {
		return nil, err
	}
	turn.AssistantMessageID = id
	return turn, nil
}

func (s *Service) ensureUserMessage(ctx context.Context, sessionID, id string, last domain.UIMessage) error {
	check := func(m *domain.Message) error {
		if m.SessionID != sessionID || m.Role != domain.RoleUser {
			return badRequest(fmt.Sprintf("message %s is not a user message in this session", id))
		}
		return nil
	}

	m, err := s.store.GetMessage(ctx, id)
	if err == nil {
		return check(m)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load user message: %w", err)
	}

	_, err = s.store.CreateMessage(ctx, domain.Message{
		ID:          id,
		SessionID:   sessionID,
		Role:        domain.RoleUser,
		Content:     last.Text(),
		Attachments: attachmentsFrom(last),
	})
	if err == nil {
		return nil
	}
	// Another agent's request for the same round may have stored it first.
	if m, getErr := s.store.GetMessage(ctx, id); getErr == nil {
		return check(m)
	}
	return fmt.Errorf("save user message: %w", err)
}

func (s *Service) assistantRow(ctx context.Context, req *Request, userMessageID string) (string, error) {
	find := func() (*domain.Message, error) {
		siblings, err := s.store.MessagesByReplyTo(ctx, userMessageID)
		if err != nil {
			return nil, fmt.Errorf("load replies: %w", err)
		}
		var mine *domain.Message
		for i := range siblings {
			sib := &siblings[i]
			if sib.ProviderID != "" && sib.ProviderID != req.ModelID {
				return nil, badRequest(fmt.Sprintf("modelId must match the round's model %s", sib.ProviderID))
			}
			if sib.AgentID == req.AgentID {
				mine = sib
			}
		}
		return mine, nil
	}

	existing, err := find()
	if err != nil {
		return "", err
	}
	if existing == nil {
		created, createErr := s.store.CreateMessage(ctx, domain.Message{
			SessionID:        req.ID,
			Role:             domain.RoleAssistant,
			AgentID:          req.AgentID,
			ProviderID:       req.ModelID,
			ReplyToMessageID: userMessageID,
		})
		if createErr == nil {
			return created.ID, nil
		}
		if !errors.Is(createErr, store.ErrInvalid) {
			return "", fmt.Errorf("create assistant message: %w", createErr)
		}
		if existing, err = find(); err != nil {
			return "", err
		}
		if existing == nil {
			return "", badRequest(createErr.Error())
		}
	}

	empty := ""
	if err := s.store.UpdateMessage(ctx, existing.ID, store.MessageUpdate{Content: &empty, Metadata: map[string]any{}}); err != nil {
		return "", fmt.Errorf("reset assistant message: %w", err)
	}
	s.log.Debug().Str("message", existing.ID).Str("agent", string(req.AgentID)).Msg("reusing assistant row")
	return existing.ID, nil
}

// recorder copies the fragments of a running stream so the outcome can be
// persisted once it ends.
type recorder struct {
	w       stream.Writer
	flusher *ContentFlusher

	mu       sync.Mutex
	text     strings.Builder
	terminal stream.Fragment
	done     bool
}

func (r *recorder) Write(f stream.Fragment) error {
	r.mu.Lock()
	switch {
	case f.Type == stream.KindTextDelta:
		r.text.WriteString(f.Delta)
		r.flusher.OnDelta(f.Delta)
	case f.Terminal() && !r.done:
		r.terminal, r.done = f, true
	}
	r.mu.Unlock()
	return r.w.Write(f)
}

func (r *recorder) result() (string, stream.Fragment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text.String(), r.terminal
}

// Run streams the agent's reply into w and persists the result: the full text
// on finish, the error text marked isError on failure, or the partial text
// when the client went away mid-stream. It returns the first write error.
func (s *Service) Run(ctx context.Context, t *Turn, w stream.Writer) error {
	req := t.Request
	log := s.log.With("session", req.ID)
	persist := context.WithoutCancel(ctx)

	flusher := NewContentFlusher(s.flush, func(chunk string) {
		if err := s.store.AppendMessageContent(persist, t.AssistantMessageID, chunk); err != nil {
			log.Warn().Err(err).Str("message", t.AssistantMessageID).Msg("partial flush failed")
		}
	})
	rec := &recorder{w: w, flusher: flusher}

	s.hooks.EmitAsync(ctx, hooks.Payload{
		Event:     hooks.EventStreamStarted,
		SessionID: req.ID,
		AgentID:   string(req.AgentID),
		Data:      map[string]any{"model": req.ModelID, "messageId": t.AssistantMessageID},
	})

	start := time.Now()
	writeErr := s.dispatcher.Dispatch(ctx, agent.Params{
		AgentID:            req.AgentID,
		ModelID:            req.ModelID,
		UserID:             t.UserID,
		Messages:           req.Messages,
		AssistantMessageID: t.AssistantMessageID,
		MemorylakeProfile:  req.MemorylakeProfile,
		OnStreamError: func(text string) {
			log.Warn().Str("agent", string(req.AgentID)).Str("error", text).Msg("agent stream error")
		},
	}, rec)
	flusher.Stop()

	text, term := rec.result()
	switch {
	case term.Type == stream.KindFinish:
		if err := s.store.UpdateMessageContent(persist, t.AssistantMessageID, text); err != nil {
			log.Error().Err(err).Str("message", t.AssistantMessageID).Msg("failed to save reply")
		}
	case ctx.Err() != nil && text != "":
		if err := s.store.UpdateMessageContent(persist, t.AssistantMessageID, text); err != nil {
			log.Error().Err(err).Str("message", t.AssistantMessageID).Msg("failed to save partial reply")
		}
	default:
		errText := term.ErrorText
		if errText == "" {
			errText = "Upstream stream ended unexpectedly"
		}
		if err := s.store.UpdateMessage(persist, t.AssistantMessageID, store.MessageUpdate{
			Content:  &errText,
			Metadata: map[string]any{domain.MetaIsError: true},
		}); err != nil {
			log.Error().Err(err).Str("message", t.AssistantMessageID).Msg("failed to save error")
		}
	}

	if title := domain.TitleFrom(t.UserContent); title != "" {
		if _, err := s.store.UpdateSessionTitle(persist, req.ID, t.UserID, title); err != nil {
			log.Warn().Err(err).Msg("failed to update session title")
		}
	}

	event := hooks.EventStreamFinished
	data := map[string]any{"messageId": t.AssistantMessageID, "took": time.Since(start).String()}
	if term.Type != stream.KindFinish {
		event = hooks.EventStreamFailed
		data["error"] = term.ErrorText
	}
	s.hooks.EmitAsync(persist, hooks.Payload{Event: event, SessionID: req.ID, AgentID: string(req.AgentID), Data: data})

	return writeErr
}

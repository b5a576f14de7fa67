package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/soyeahso/memarena/internal/chat"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/relay"
	"github.com/soyeahso/memarena/internal/rounds"
	"github.com/soyeahso/memarena/internal/stream"
)

// Session drives one chat session: a channel per agent, all three streamed
// concurrently for each round.
type Session struct {
	ID string

	client   *Client
	channels []*rounds.Channel
	log      *logging.Logger

	// Profile, when set, is sent to the memorylake agent only.
	Profile map[string]any
	// OnFragment, when set, sees every fragment after its channel applied
	// it. It runs on the stream's goroutine.
	OnFragment func(agent domain.AgentID, f stream.Fragment)

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// Open creates a driver for sessionID with one channel per known agent.
func (c *Client) Open(sessionID string) *Session {
	s := &Session{
		ID:      sessionID,
		client:  c,
		log:     c.log.With("session", sessionID),
		cancels: make([]context.CancelFunc, len(domain.Agents)),
	}
	for _, a := range domain.Agents {
		s.channels = append(s.channels, rounds.NewChannel(a.ID))
	}
	return s
}

// Begin creates a new session and relays p to it. The caller opens the
// returned session and starts the round with SubmitPending once it is ready.
func (c *Client) Begin(ctx context.Context, r *relay.Relay, p relay.Pending) (*Session, error) {
	sess, err := c.CreateSession(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := r.Put(sess.ID, p); err != nil {
		return nil, err
	}
	return c.Open(sess.ID), nil
}

// Channels returns the per-agent channels in display order.
func (s *Session) Channels() []*rounds.Channel { return s.channels }

// Load fills the channels from the stored history.
func (s *Session) Load(ctx context.Context) error {
	dtos, err := s.client.History(ctx, s.ID)
	if err != nil {
		return err
	}
	msgs := make([]domain.Message, len(dtos))
	for i, d := range dtos {
		msgs[i] = d.Message(s.ID)
	}
	lists := rounds.Partition(msgs, domain.AgentIDs())
	for i, ch := range s.channels {
		ch.Load(lists[i])
	}
	return nil
}

// Submit stores the user's message and starts the round on all three agents.
// modelID is normalised against the catalogue.
func (s *Session) Submit(ctx context.Context, modelID, text string, atts []domain.Attachment) (string, error) {
	id, err := s.client.SaveUserMessage(ctx, s.ID, text, atts)
	if err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}
	msg := domain.UIMessage{ID: id, Role: domain.RoleUser, Parts: []domain.Part{domain.TextPart(text)}}
	for _, a := range atts {
		msg.Parts = append(msg.Parts, domain.FileRefPart(domain.FileRef{
			DriveItemID: a.DriveItemID,
			Filename:    a.Filename,
			Size:        a.Size,
			MimeType:    a.MimeType,
		}))
	}
	s.Send(ctx, msg, domain.NormalizeModel(modelID))
	return id, nil
}

// SubmitPending starts the round relayed for this session, if any. It
// reports whether an entry was found.
func (s *Session) SubmitPending(ctx context.Context, r *relay.Relay) (bool, error) {
	p, ok := r.Take(s.ID)
	if !ok {
		return false, nil
	}
	_, err := s.Submit(ctx, p.ModelID, p.Text, p.Attachments)
	return true, err
}

// Send seeds every channel with msg and opens the three streams. It returns
// at once; use Wait to block until all of them end.
func (s *Session) Send(ctx context.Context, msg domain.UIMessage, modelID string) {
	for _, ch := range s.channels {
		ch.Send(msg)
	}
	for i, ch := range s.channels {
		req := chat.Request{
			ID:       s.ID,
			Messages: ch.Messages(),
			AgentID:  ch.Agent,
			ModelID:  modelID,
		}
		if ch.Agent == domain.AgentMemoryLake {
			req.MemorylakeProfile = s.Profile
		}

		streamCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancels[i] = cancel
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer cancel()
			s.consume(streamCtx, ch, req)
		}()
	}
}

func (s *Session) consume(ctx context.Context, ch *rounds.Channel, req chat.Request) {
	err := s.client.StreamChat(ctx, req, stream.WriterFunc(func(f stream.Fragment) error {
		ch.Apply(f)
		if s.OnFragment != nil {
			s.OnFragment(ch.Agent, f)
		}
		return nil
	}))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		ch.Stop()
	default:
		var apiErr *Error
		if !errors.As(err, &apiErr) && !errors.Is(err, ErrIncompleteStream) {
			s.log.Warn().Err(err).Str("agent", string(ch.Agent)).Msg("stream failed")
		}
		if ch.Status().Active() {
			ch.Fail(err.Error())
		}
	}
}

// Stop cancels one agent's stream. The others keep running.
func (s *Session) Stop(agent domain.AgentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range s.channels {
		if ch.Agent == agent && s.cancels[i] != nil {
			s.cancels[i]()
		}
	}
}

// StopAll cancels every stream of the round.
func (s *Session) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		if cancel != nil {
			cancel()
		}
	}
}

// Wait blocks until every stream of the current round has ended.
func (s *Session) Wait() { s.wg.Wait() }

// Statuses returns the channel statuses in display order.
func (s *Session) Statuses() []rounds.Status {
	out := make([]rounds.Status, len(s.channels))
	for i, ch := range s.channels {
		out[i] = ch.Status()
	}
	return out
}

// Status is the aggregate status of the round.
func (s *Session) Status() rounds.Status { return rounds.Aggregate(s.Statuses()...) }

// Rounds reconciles the three channels into rounds.
func (s *Session) Rounds() []rounds.Round {
	lists := make([][]domain.UIMessage, len(s.channels))
	for i, ch := range s.channels {
		lists[i] = ch.Messages()
	}
	return rounds.BuildRounds(lists)
}

// Cells renders round r for every agent. last marks the newest round.
func (s *Session) Cells(r rounds.Round, last bool) []rounds.Cell {
	out := make([]rounds.Cell, len(s.channels))
	for i, ch := range s.channels {
		out[i] = rounds.CellView(r, i, last, ch.Status(), ch.Err())
	}
	return out
}

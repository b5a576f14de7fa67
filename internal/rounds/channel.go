// Package rounds keeps the client-side state of a three-agent chat: one
// message list and status per agent, and the rounds assembled from them.
package rounds

import (
	"maps"
	"sync"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/stream"
)

// Status is the state of one agent's channel.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
	StatusReady     Status = "ready"
)

// Active reports whether a request is outstanding.
func (s Status) Active() bool { return s == StatusSubmitted || s == StatusStreaming }

// Channel is one agent's message list and status. It changes only through
// the user's sends and that agent's own fragments.
type Channel struct {
	Agent domain.AgentID

	mu        sync.Mutex
	status    Status
	errText   string
	messages  []domain.UIMessage
	assistant int // index of the assistant message being streamed, or -1
}

// NewChannel creates an idle channel for agent.
func NewChannel(agent domain.AgentID) *Channel {
	return &Channel{Agent: agent, status: StatusIdle, assistant: -1}
}

// Load replaces the message list, typically with persisted history.
func (c *Channel) Load(msgs []domain.UIMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]domain.UIMessage(nil), msgs...)
	c.assistant = -1
}

// Send appends the user's message and marks the channel submitted.
func (c *Channel) Send(msg domain.UIMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.status = StatusSubmitted
	c.errText = ""
	c.assistant = -1
}

// Apply advances the channel with one fragment of its agent's stream.
func (c *Channel) Apply(f stream.Fragment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch f.Type {
	case stream.KindStart:
		c.status = StatusStreaming
		c.messages = append(c.messages, domain.UIMessage{
			ID:       f.MessageID,
			Role:     domain.RoleAssistant,
			Metadata: mergeMeta(nil, f.MessageMetadata),
		})
		c.assistant = len(c.messages) - 1
	case stream.KindTextStart:
		if m := c.current(); m != nil {
			m.Parts = append(m.Parts, domain.TextPart(""))
		}
	case stream.KindTextDelta:
		m := c.current()
		if m == nil {
			return
		}
		if n := len(m.Parts); n == 0 || m.Parts[n-1].Type != domain.PartText {
			m.Parts = append(m.Parts, domain.TextPart(""))
		}
		last := &m.Parts[len(m.Parts)-1]
		text := *last.Text + f.Delta
		last.Text = &text
	case stream.KindFinish:
		if m := c.current(); m != nil {
			m.Metadata = mergeMeta(m.Metadata, f.MessageMetadata)
		}
		c.status = StatusReady
		c.assistant = -1
	case stream.KindError:
		c.status = StatusError
		c.errText = f.ErrorText
		c.assistant = -1
	}
}

// Stop ends an outstanding request locally. Whatever was streamed so far
// stays in the list.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Active() {
		c.status = StatusReady
	}
	c.assistant = -1
}

// Fail records a transport failure that produced no error fragment.
func (c *Channel) Fail(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusError
	c.errText = text
	c.assistant = -1
}

// Status returns the channel status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the live stream error, or "".
func (c *Channel) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errText
}

// Messages returns a copy of the message list, metadata included.
func (c *Channel) Messages() []domain.UIMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.UIMessage, len(c.messages))
	for i, m := range c.messages {
		m.Parts = append([]domain.Part(nil), m.Parts...)
		m.Metadata = maps.Clone(m.Metadata)
		out[i] = m
	}
	return out
}

func (c *Channel) current() *domain.UIMessage {
	if c.assistant < 0 || c.assistant >= len(c.messages) {
		return nil
	}
	return &c.messages[c.assistant]
}

// mergeMeta returns a new map holding base overlaid with extra. Maps already
// handed out by Messages are never written to.
func mergeMeta(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	out := make(map[string]any, len(base)+len(extra))
	maps.Copy(out, base)
	maps.Copy(out, extra)
	return out
}

// Aggregate folds the channel statuses into the one shown for the whole
// round: streaming wins over submitted, anything else is ready.
func Aggregate(statuses ...Status) Status {
	agg := StatusReady
	for _, s := range statuses {
		switch s {
		case StatusStreaming:
			return StatusStreaming
		case StatusSubmitted:
			agg = StatusSubmitted
		}
	}
	return agg
}

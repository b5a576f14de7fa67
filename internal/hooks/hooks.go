// Package hooks lets other parts of memarena react to chat lifecycle events
// without the chat service knowing about them.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/soyeahso/memarena/internal/logging"
)

// Event names.
const (
	EventSessionCreated = "session_created"
	EventSessionDeleted = "session_deleted"
	EventMessageSaved   = "message_saved"
	EventStreamStarted  = "stream_started"
	EventStreamFinished = "stream_finished"
	EventStreamFailed   = "stream_failed"
	EventGatewayStart   = "gateway_start"
	EventGatewayStop    = "gateway_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventSessionCreated,
	EventSessionDeleted,
	EventMessageSaved,
	EventStreamStarted,
	EventStreamFinished,
	EventStreamFailed,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload carries event data to hook handlers. SessionID and AgentID are set
// when the event concerns one.
type Payload struct {
	Event     string         `json:"event"`
	SessionID string         `json:"sessionId,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler handles a hook event. A returned error is logged and does not stop
// other handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager holds hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	inflight sync.WaitGroup
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler. name identifies it in logs.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

func (m *Manager) snapshot(event string) []namedHandler {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	hs := make([]namedHandler, len(m.handlers[event]))
	copy(hs, m.handlers[event])
	return hs
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", h.name).Msg("hook handler error")
	}
}

// Emit runs the event's handlers synchronously in registration order.
// A nil Manager ignores events.
func (m *Manager) Emit(ctx context.Context, p Payload) {
	for _, h := range m.snapshot(p.Event) {
		m.call(ctx, h, p)
	}
}

// EmitAsync runs the event's handlers concurrently and returns at once. The
// handlers see a context that is not cancelled with ctx.
func (m *Manager) EmitAsync(ctx context.Context, p Payload) {
	hs := m.snapshot(p.Event)
	if len(hs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, h := range hs {
		m.inflight.Add(1)
		go func(h namedHandler) {
			defer m.inflight.Done()
			m.call(ctx, h, p)
		}(h)
	}
}

// Wait blocks until handlers started by EmitAsync have returned.
func (m *Manager) Wait() {
	if m != nil {
		m.inflight.Wait()
	}
}

// Events returns the events that have at least one handler, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, hs := range m.handlers {
		if len(hs) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}

// LogHandler returns a handler that logs every event at debug level.
func LogHandler(log *logging.Logger) Handler {
	return func(_ context.Context, p Payload) error {
		ev := log.Debug().Str("event", p.Event)
		if p.SessionID != "" {
			ev = ev.Str("sessionId", p.SessionID)
		}
		if p.AgentID != "" {
			ev = ev.Str("agent", p.AgentID)
		}
		ev.Fields(p.Data).Msg("hook")
		return nil
	}
}

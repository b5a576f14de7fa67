package llm

import (
	"context"
	"sync"

	"github.com/soyeahso/memarena/internal/stream"
)

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName string
	StreamFunc   func(ctx context.Context, req Request) (<-chan stream.Event, error)
	// Events are replayed when StreamFunc is nil.
	Events []stream.Event

	mu       sync.Mutex
	requests []Request
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Stream(ctx context.Context, req Request) (<-chan stream.Event, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	events := m.Events
	if events == nil {
		events = TextEvents("mock response")
	}
	ch := make(chan stream.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// Requests returns the requests seen so far.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// TextEvents builds a complete single-block event sequence for the given deltas.
func TextEvents(deltas ...string) []stream.Event {
	evs := []stream.Event{
		{Type: stream.EventMessageStart},
		{Type: stream.EventBlockStart, BlockType: stream.BlockText},
	}
	for _, d := range deltas {
		evs = append(evs, stream.Event{Type: stream.EventBlockDelta, Text: d})
	}
	return append(evs,
		stream.Event{Type: stream.EventBlockStop},
		stream.Event{Type: stream.EventMessageDelta, StopReason: "end_turn"},
		stream.Event{Type: stream.EventMessageStop},
	)
}

// Package agent holds the three memory-augmented agents and the dispatcher
// that routes a chat request to one of them.
package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/stream"
)

// Turn is one normalized history entry handed to an adapter.
type Turn struct {
	Role  string
	Text  string
	Files []llm.File
}

// Call is the input to one adapter stream.
type Call struct {
	Turns     []Turn
	ModelID   string
	UserID    string
	MessageID string // assistant message id
	Profile   *domain.MemorylakeProfile
}

// Adapter streams one agent's reply. The returned channel is closed after
// exactly one terminal fragment. Adapters never return errors directly;
// every failure becomes an error fragment.
type Adapter interface {
	ID() domain.AgentID
	Stream(ctx context.Context, call Call) <-chan stream.Fragment
}

// FileConsumer is implemented by adapters that want resolved attachment
// content on the last user turn.
type FileConsumer interface {
	AcceptsFiles() bool
}

// Waiter is implemented by adapters that run background work after a
// stream, such as recording memories.
type Waiter interface {
	Wait()
}

// metadata is attached to the start and finish fragments.
func metadata(id domain.AgentID) map[string]any {
	return map[string]any{"agentId": string(id)}
}

// opener starts the upstream stream for a call.
type opener func(ctx context.Context) (<-chan stream.Event, error)

// pipe runs the upstream events for one call through a translator. When the
// reply finishes cleanly, after is called with its text.
func pipe(ctx context.Context, id domain.AgentID, call Call, unknownErr string, open opener, after func(reply string)) <-chan stream.Fragment {
	out := make(chan stream.Fragment)
	go func() {
		defer close(out)

		tr := stream.NewTranslator(call.MessageID, metadata(id))
		if unknownErr != "" {
			tr.UnknownError = unknownErr
		}

		events, err := open(ctx)
		if err != nil {
			out <- stream.Error(err.Error())
			return
		}

		var reply []stream.Fragment
		finished := false
		for ev := range events {
			for _, f := range tr.Feed(ev) {
				if f.Type == stream.KindTextDelta {
					reply = append(reply, f)
				}
				if f.Type == stream.KindFinish {
					finished = true
				}
				out <- f
			}
		}
		if !tr.Done() {
			out <- stream.Error(interrupted(ctx))
			return
		}
		if finished && after != nil {
			after(stream.Text(reply))
		}
	}()
	return out
}

// interrupted explains a stream that stopped before a terminal event.
func interrupted(ctx context.Context) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "Request timed out"
	case ctx.Err() != nil:
		return "Request cancelled"
	}
	return "Upstream stream ended unexpectedly"
}

// background runs post-stream work detached from the request context.
type background struct {
	wg  sync.WaitGroup
	log *logging.Logger
}

func (b *background) run(name string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			b.log.Warn().Err(err).Str("task", name).Msg("background task failed")
		}
	}()
}

// Wait blocks until all background work has finished.
func (b *background) Wait() { b.wg.Wait() }

package agent

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/stream"
)

// Params is one validated chat request for a single agent.
type Params struct {
	AgentID            domain.AgentID
	ModelID            string
	UserID             string
	Messages           []domain.UIMessage
	AssistantMessageID string
	MemorylakeProfile  map[string]any

	// OnStreamError is called with the text of every error fragment sent.
	OnStreamError func(text string)
}

// Dispatcher picks the adapter for a request and forwards its fragments.
type Dispatcher struct {
	adapters map[domain.AgentID]Adapter
	resolver *Resolver
	timeout  time.Duration
	log      *logging.Logger
}

// NewDispatcher creates a dispatcher over adapters. timeout bounds each
// stream; zero means no limit.
func NewDispatcher(resolver *Resolver, timeout time.Duration, log *logging.Logger, adapters ...Adapter) *Dispatcher {
	d := &Dispatcher{
		adapters: make(map[domain.AgentID]Adapter, len(adapters)),
		resolver: resolver,
		timeout:  timeout,
		log:      log.Sub("dispatcher"),
	}
	for _, a := range adapters {
		d.adapters[a.ID()] = a
	}
	return d
}

// Adapter returns the adapter registered for id.
func (d *Dispatcher) Adapter(id domain.AgentID) (Adapter, bool) {
	a, ok := d.adapters[id]
	return a, ok
}

// Wait blocks until background work of every adapter has finished.
func (d *Dispatcher) Wait() {
	for _, a := range d.adapters {
		if w, ok := a.(Waiter); ok {
			w.Wait()
		}
	}
}

// Dispatch streams one agent's reply into w. The fragments written always
// end with exactly one terminal. The returned error is the first write
// failure, if any; the adapter is drained regardless.
func (d *Dispatcher) Dispatch(ctx context.Context, p Params, w stream.Writer) error {
	g := stream.NewGuard(w)
	var writeErr error
	emit := func(f stream.Fragment) {
		if err := g.Write(f); err != nil && writeErr == nil && !errors.Is(err, stream.ErrTerminated) {
			writeErr = err
			d.log.Debug().Err(err).Str("agent", string(p.AgentID)).Msg("write failed, draining")
		}
		if f.Type == stream.KindError && p.OnStreamError != nil {
			p.OnStreamError(f.ErrorText)
		}
	}
	fail := func(text string) error {
		d.log.Warn().Str("agent", string(p.AgentID)).Str("error", text).Msg("stream failed")
		emit(stream.Error(text))
		return writeErr
	}

	adapter, ok := d.adapters[p.AgentID]
	if !ok {
		return fail("Unknown agent: " + string(p.AgentID))
	}

	turns := History(p.Messages)
	if fc, ok := adapter.(FileConsumer); ok && fc.AcceptsFiles() && len(p.Messages) > 0 {
		last := p.Messages[len(p.Messages)-1]
		if i := LastUser(turns); last.Role == domain.RoleUser && i >= 0 {
			files, err := d.resolve(ctx, p, last.FileRefs())
			if err != nil {
				return fail(err.Error())
			}
			turns[i].Files = files
		}
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	call := Call{
		Turns:     turns,
		ModelID:   p.ModelID,
		UserID:    p.UserID,
		MessageID: p.AssistantMessageID,
		Profile:   domain.ParseMemorylakeProfile(p.MemorylakeProfile),
	}

	start := time.Now()
	for f := range adapter.Stream(ctx, call) {
		if g.Terminated() {
			continue
		}
		emit(f)
	}
	if !g.Terminated() {
		return fail(interrupted(ctx))
	}

	term, _ := g.Terminal()
	d.log.Info().Str("agent", string(p.AgentID)).Str("model", p.ModelID).
		Str("end", string(term.Type)).Dur("took", time.Since(start)).Msg("stream done")
	return writeErr
}

func (d *Dispatcher) resolve(ctx context.Context, p Params, refs []domain.FileRef) ([]llm.File, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if d.resolver == nil {
		return nil, &ResolveError{Text: "File attachments are not supported"}
	}
	return d.resolver.Resolve(ctx, p.ModelID, p.UserID, refs)
}

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/stream"
)

const (
	mem0NotConfigured = "Mem0 is not configured (MEM0_API_KEY, LITELLM_API, LITELLM_API_KEY)"
	mem0SearchLimit   = 10
	backgroundTimeout = 2 * time.Minute
)

// MemoryBackend is the Mem0 API surface the adapter uses.
type MemoryBackend interface {
	Search(ctx context.Context, userID, query string, limit int) ([]llm.Memory, error)
	Add(ctx context.Context, userID string, msgs []llm.Message) error
}

// Mem0 recalls the user's memories from Mem0, injects them as a system
// prompt and streams the chosen model through the LLM gateway. The exchange
// is recorded back into Mem0 once the reply finishes.
type Mem0 struct {
	models    *llm.Registry
	memory    MemoryBackend
	maxTokens int
	log       *logging.Logger
	background
}

// NewMem0 creates the adapter. A nil registry or backend means Mem0 is not
// configured.
func NewMem0(models *llm.Registry, memory MemoryBackend, maxTokens int, log *logging.Logger) *Mem0 {
	l := log.Sub("agent.mem0")
	return &Mem0{models: models, memory: memory, maxTokens: maxTokens, log: l, background: background{log: l}}
}

func (a *Mem0) ID() domain.AgentID { return domain.AgentMem0 }

// AcceptsFiles reports that the last user turn may carry resolved files.
func (a *Mem0) AcceptsFiles() bool { return true }

func (a *Mem0) Stream(ctx context.Context, call Call) <-chan stream.Fragment {
	if a.models == nil || a.memory == nil {
		return stream.Single(stream.Error(mem0NotConfigured))
	}
	client, err := a.models.Resolve(call.ModelID)
	if err != nil {
		return stream.Single(stream.Error(err.Error()))
	}

	query := lastUserText(call.Turns)
	open := func(ctx context.Context) (<-chan stream.Event, error) {
		memories, err := a.memory.Search(ctx, call.UserID, query, mem0SearchLimit)
		if err != nil {
			return nil, fmt.Errorf("Mem0 search failed: %w", err)
		}
		facts := make([]string, 0, len(memories))
		for _, m := range memories {
			facts = append(facts, m.Memory)
		}
		a.log.Debug().Str("model", call.ModelID).Int("memories", len(facts)).Msg("streaming")

		return client.Stream(ctx, llm.Request{
			Model:     call.ModelID,
			System:    BuildSystemPrompt(PromptConfig{AgentName: "Mem0", Memories: facts}),
			Messages:  toLLM(call.Turns),
			MaxTokens: a.maxTokens,
		})
	}

	after := func(reply string) {
		a.run("mem0.add", func(ctx context.Context) error {
			return a.memory.Add(ctx, call.UserID, []llm.Message{
				{Role: llm.RoleUser, Text: query},
				{Role: llm.RoleAssistant, Text: reply},
			})
		})
	}
	return pipe(ctx, a.ID(), call, "", open, after)
}

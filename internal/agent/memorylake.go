package agent

import (
	"context"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/stream"
)

const memoryLakeNotConfigured = "Memory Lake is not configured (ZOOTOPIA_API, ZOOTOPIA_API_KEY)"

// MemoryLake speaks the Anthropic Messages protocol to the Memory Lake
// endpoint, which does its own memory retrieval. Requests are scoped by the
// caller's profile headers.
type MemoryLake struct {
	client    llm.Client
	maxTokens int
	log       *logging.Logger
}

// NewMemoryLake creates the adapter. A nil client means Memory Lake is not
// configured and every stream fails with a configuration error.
func NewMemoryLake(client llm.Client, maxTokens int, log *logging.Logger) *MemoryLake {
	return &MemoryLake{client: client, maxTokens: maxTokens, log: log.Sub("agent.memorylake")}
}

func (a *MemoryLake) ID() domain.AgentID { return domain.AgentMemoryLake }

func (a *MemoryLake) Stream(ctx context.Context, call Call) <-chan stream.Fragment {
	if a.client == nil {
		return stream.Single(stream.Error(memoryLakeNotConfigured))
	}

	req := llm.Request{
		Model:     call.ModelID,
		Messages:  toLLM(textOnly(call.Turns)),
		MaxTokens: a.maxTokens,
	}
	if call.Profile != nil {
		req.Headers = call.Profile.Headers()
	}
	a.log.Debug().Str("model", call.ModelID).Int("turns", len(call.Turns)).
		Bool("profile", call.Profile != nil).Msg("streaming")

	return pipe(ctx, a.ID(), call, "Unknown Memory Lake error", func(ctx context.Context) (<-chan stream.Event, error) {
		return a.client.Stream(ctx, req)
	}, nil)
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/stream"
)

const supermemoryNotConfigured = "Supermemory is not configured (SUPERMEMORY_API_KEY, LITELLM_API, LITELLM_API_KEY)"

// ProfileBackend is the Supermemory API surface the adapter uses.
type ProfileBackend interface {
	Profile(ctx context.Context, containerTag, q string) (*llm.UserProfile, error)
	Add(ctx context.Context, containerTag, content string) error
}

// Supermemory injects the user's Supermemory profile and search hits, streams
// through the LLM gateway, then always stores the exchange.
type Supermemory struct {
	models    *llm.Registry
	memory    ProfileBackend
	maxTokens int
	log       *logging.Logger
	background
}

// NewSupermemory creates the adapter. A nil registry or backend means
// Supermemory is not configured.
func NewSupermemory(models *llm.Registry, memory ProfileBackend, maxTokens int, log *logging.Logger) *Supermemory {
	l := log.Sub("agent.supermemory")
	return &Supermemory{models: models, memory: memory, maxTokens: maxTokens, log: l, background: background{log: l}}
}

func (a *Supermemory) ID() domain.AgentID { return domain.AgentSupermemory }

func (a *Supermemory) Stream(ctx context.Context, call Call) <-chan stream.Fragment {
	if a.models == nil || a.memory == nil {
		return stream.Single(stream.Error(supermemoryNotConfigured))
	}
	client, err := a.models.Resolve(call.ModelID)
	if err != nil {
		return stream.Single(stream.Error(err.Error()))
	}

	turns := textOnly(call.Turns)
	query := lastUserText(turns)
	open := func(ctx context.Context) (<-chan stream.Event, error) {
		profile, err := a.memory.Profile(ctx, call.UserID, query)
		if err != nil {
			return nil, fmt.Errorf("Supermemory profile failed: %w", err)
		}
		if profile == nil {
			profile = &llm.UserProfile{}
		}
		a.log.Debug().Str("model", call.ModelID).Bool("profile", !profile.Empty()).Msg("streaming")

		return client.Stream(ctx, llm.Request{
			Model: call.ModelID,
			System: BuildSystemPrompt(PromptConfig{
				AgentName: "Supermemory",
				Static:    profile.Static,
				Dynamic:   profile.Dynamic,
				Memories:  profile.Results,
			}),
			Messages:  toLLM(turns),
			MaxTokens: a.maxTokens,
		})
	}

	after := func(reply string) {
		a.run("supermemory.add", func(ctx context.Context) error {
			return a.memory.Add(ctx, call.UserID, exchange(query, reply))
		})
	}
	return pipe(ctx, a.ID(), call, "", open, after)
}

// exchange renders one round as a document.
func exchange(user, assistant string) string {
	var b strings.Builder
	if user != "" {
		b.WriteString("user: " + user + "\n")
	}
	if assistant != "" {
		b.WriteString("assistant: " + assistant + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

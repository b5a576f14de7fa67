package llm

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/logging"
)

// Registry maps model ids onto the client that serves them.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model id → provider name
	prefixes map[string]string // model id prefix → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients:  make(map[string]Client),
		aliases:  make(map[string]string),
		prefixes: make(map[string]string),
		log:      log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Debug().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model id to a provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// AliasPrefix routes every model id starting with prefix to a provider.
func (r *Registry) AliasPrefix(prefix, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = provider
}

// SetFallback sets the provider used when nothing else matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given model id.
// Resolution order: provider name → alias → longest prefix → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}

	best := ""
	for prefix := range r.prefixes {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		if c, ok := r.clients[r.prefixes[best]]; ok {
			return c, nil
		}
	}

	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewGatewayRegistry builds a Registry for a LiteLLM-style gateway that
// speaks both the OpenAI chat completions and Anthropic Messages protocols
// under one base URL. Catalogue models are aliased by family; unknown
// claude-* ids go to Anthropic and everything else to OpenAI.
func NewGatewayRegistry(baseURL, apiKey string, httpClient *http.Client, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	anthropic := NewAnthropicClient(baseURL, apiKey, httpClient)
	// The gateway mounts the Messages API next to chat completions.
	anthropic.Path = "/messages"
	reg.Register(domain.FamilyAnthropic, anthropic)
	reg.Register(domain.FamilyOpenAI, NewOpenAIClient(baseURL, apiKey, httpClient))

	for _, m := range domain.Models() {
		reg.Alias(m.ProviderID, domain.ModelFamily(m.ProviderID))
	}
	reg.AliasPrefix("claude", domain.FamilyAnthropic)
	reg.SetFallback(domain.FamilyOpenAI)
	return reg
}

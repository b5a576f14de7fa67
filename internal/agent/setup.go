package agent

import (
	"net/http"
	"time"

	"github.com/soyeahso/memarena/internal/config"
	"github.com/soyeahso/memarena/internal/llm"
	"github.com/soyeahso/memarena/internal/logging"
)

// FromConfig wires the three adapters and a dispatcher. Agents whose
// settings are missing are still registered; their streams fail with a
// configuration error. urls may be nil when Arena is not configured.
func FromConfig(cfg *config.Config, urls DownloadURLs, httpClient *http.Client, log *logging.Logger) *Dispatcher {
	maxTokens := cfg.Stream.MaxTokens

	var lake llm.Client
	if cfg.MemoryLake.BaseURL != "" && cfg.MemoryLake.APIKey != "" {
		lake = llm.NewAnthropicClient(cfg.MemoryLake.BaseURL, cfg.MemoryLake.APIKey, httpClient).WithName("memorylake")
	}

	var gateway *llm.Registry
	if cfg.LiteLLM.BaseURL != "" && cfg.LiteLLM.APIKey != "" {
		gateway = llm.NewGatewayRegistry(cfg.LiteLLM.BaseURL, cfg.LiteLLM.APIKey, httpClient, log)
	}

	var mem0 MemoryBackend
	if cfg.Mem0.APIKey != "" {
		mem0 = llm.NewMem0Client(cfg.Mem0.BaseURL, cfg.Mem0.APIKey, httpClient)
	}
	var sm ProfileBackend
	if cfg.Supermemory.APIKey != "" {
		sm = llm.NewSupermemoryClient(cfg.Supermemory.BaseURL, cfg.Supermemory.APIKey, httpClient)
	}

	return NewDispatcher(
		NewResolver(urls, nil),
		time.Duration(cfg.Stream.TimeoutSeconds)*time.Second,
		log,
		NewMemoryLake(lake, maxTokens, log),
		NewMem0(gateway, mem0, maxTokens, log),
		NewSupermemory(gateway, sm, maxTokens, log),
	)
}

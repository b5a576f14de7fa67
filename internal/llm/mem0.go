package llm

import (
	"context"
	"encoding/json"
	"net/http"
)

const mem0ProviderName = "mem0"

// Mem0Client talks to the Mem0 memory API.
type Mem0Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Memory is one stored fact returned by a search.
type Memory struct {
	ID     string  `json:"id"`
	Memory string  `json:"memory"`
	Score  float64 `json:"score,omitempty"`
}

// NewMem0Client creates a Mem0 client. httpClient may be nil.
func NewMem0Client(baseURL, apiKey string, httpClient *http.Client) *Mem0Client {
	return &Mem0Client{baseURL: baseURL, apiKey: apiKey, client: defaultHTTPClient(httpClient)}
}

func (c *Mem0Client) headers() map[string]string {
	return map[string]string{"Authorization": "Token " + c.apiKey}
}

// Search returns the user's memories relevant to query.
func (c *Mem0Client) Search(ctx context.Context, userID, query string, limit int) ([]Memory, error) {
	body := map[string]any{
		"query":   query,
		"filters": map[string]any{"user_id": userID},
	}
	if limit > 0 {
		body["top_k"] = limit
	}
	var raw json.RawMessage
	if err := postJSON(ctx, c.client, mem0ProviderName, joinURL(c.baseURL, "/v2/memories/search/"), c.headers(), body, &raw); err != nil {
		return nil, err
	}
	return decodeMemories(raw)
}

// decodeMemories accepts both the bare list and the {"results": [...]} form.
func decodeMemories(raw json.RawMessage) ([]Memory, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []Memory
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Results []Memory `json:"results"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, &ProviderError{Provider: mem0ProviderName, Message: "unexpected search response"}
	}
	return wrapped.Results, nil
}

// Add records an exchange so Mem0 can extract new memories from it.
func (c *Mem0Client) Add(ctx context.Context, userID string, msgs []Message) error {
	type turn struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	turns := make([]turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Text != "" {
			turns = append(turns, turn{Role: m.Role, Content: m.Text})
		}
	}
	if len(turns) == 0 {
		return nil
	}
	body := map[string]any{"messages": turns, "user_id": userID}
	return postJSON(ctx, c.client, mem0ProviderName, joinURL(c.baseURL, "/v1/memories/"), c.headers(), body, nil)
}

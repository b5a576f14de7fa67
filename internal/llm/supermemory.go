package llm

import (
	"context"
	"net/http"
)

const supermemoryProviderName = "supermemory"

// SupermemoryClient talks to the Supermemory API. Memories are scoped by a
// container tag, which is the user id here.
type SupermemoryClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// UserProfile is what Supermemory knows about a user, plus search hits for
// the current question.
type UserProfile struct {
	Static  []string
	Dynamic []string
	Results []string
}

// Empty reports whether the profile holds nothing to inject.
func (p *UserProfile) Empty() bool {
	return p == nil || len(p.Static)+len(p.Dynamic)+len(p.Results) == 0
}

// NewSupermemoryClient creates a Supermemory client. httpClient may be nil.
func NewSupermemoryClient(baseURL, apiKey string, httpClient *http.Client) *SupermemoryClient {
	return &SupermemoryClient{baseURL: baseURL, apiKey: apiKey, client: defaultHTTPClient(httpClient)}
}

func (c *SupermemoryClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

// Profile fetches the container's profile and search results for q.
func (c *SupermemoryClient) Profile(ctx context.Context, containerTag, q string) (*UserProfile, error) {
	body := map[string]any{"containerTag": containerTag}
	if q != "" {
		body["q"] = q
	}
	var resp struct {
		Profile struct {
			Static  []string `json:"static"`
			Dynamic []string `json:"dynamic"`
		} `json:"profile"`
		SearchResults struct {
			Results []struct {
				Memory string `json:"memory"`
				Chunk  string `json:"chunk"`
			} `json:"results"`
		} `json:"searchResults"`
	}
	if err := postJSON(ctx, c.client, supermemoryProviderName, joinURL(c.baseURL, "/v4/profile"), c.headers(), body, &resp); err != nil {
		return nil, err
	}

	p := &UserProfile{Static: resp.Profile.Static, Dynamic: resp.Profile.Dynamic}
	for _, r := range resp.SearchResults.Results {
		switch {
		case r.Memory != "":
			p.Results = append(p.Results, r.Memory)
		case r.Chunk != "":
			p.Results = append(p.Results, r.Chunk)
		}
	}
	return p, nil
}

// Add stores content as a document in the container.
func (c *SupermemoryClient) Add(ctx context.Context, containerTag, content string) error {
	if content == "" {
		return nil
	}
	body := map[string]any{
		"content":       content,
		"containerTags": []string{containerTag},
	}
	return postJSON(ctx, c.client, supermemoryProviderName, joinURL(c.baseURL, "/v3/documents"), c.headers(), body, nil)
}
